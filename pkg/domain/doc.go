/*
Package domain contains the records shared by the controller, the executor and the adapters.

It is kept free of I/O so that every backend stores and reloads the same values.

# Key Entities

  - Runner: the durable health record of one named worker slot, with its audit counters.
  - Job: a unit of work held by the queue backend, with delay, expiry and retry fields.
  - Notice: an operator-facing message with a severity level.
*/
package domain
