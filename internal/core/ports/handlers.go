package ports

import (
	"context"
	"net"
)

// ConnectionHandler drives one accepted connection until it closes.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn net.Conn) error
}
