package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
)

// Echo returns a Handler that writes back everything it reads until the
// peer sends close_notify or the connection fails.
func Echo(logger *slog.Logger) Handler {
	return func(ctx context.Context, conn *Conn) {
		buf := make([]byte, 16*1024)
		for ctx.Err() == nil {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					err = werr
				}
			}
			if err == nil {
				continue
			}
			if logger != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("echo stopped", "conn", conn.ID(), "error", err)
			}
			return
		}
	}
}
