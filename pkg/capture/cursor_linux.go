//go:build linux

package capture

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// x11Cursor 通过 QueryPointer 读取指针在根窗口中的坐标
type x11Cursor struct {
	conn *xgb.Conn
	root xproto.Window
}

func newCursorLocator() (CursorLocator, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect X server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &x11Cursor{conn: conn, root: screen.Root}, nil
}

func (c *x11Cursor) Cursor() (int, int, bool, error) {
	reply, err := xproto.QueryPointer(c.conn, c.root).Reply()
	if err != nil {
		return 0, 0, false, err
	}
	return int(reply.RootX), int(reply.RootY), reply.SameScreen, nil
}

func (c *x11Cursor) Close() error {
	c.conn.Close()
	return nil
}
