package channel

import (
	stderrors "errors"
	"io"
	"net"
	"strings"

	"github.com/oarkflow/errors"
)

var (
	ErrClosed     = errors.New("channel closed")
	ErrNotOpen    = errors.New("channel not open")
	ErrPeerFailed = errors.New("peer failed")
)

// normalizeReadErr maps the ways a stream can end cleanly to nil.
func normalizeReadErr(err error) error {
	if err == nil || stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}
