package middleware

import "github.com/aretw0/asyncworker/pkg/ports"

// Middleware allows wrapping a Queue to add behavior.
type Middleware func(ports.Queue) ports.Queue
