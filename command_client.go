package libbox

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
)

const commandRequestTimeout = 3 * time.Second

var _ ActionSink = (*CommandClient)(nil)

type CommandClientHandler interface {
	Connected()
	Disconnected(message string)
	WriteLog(message string)
	WriteStatus(active bool)
}

type CommandClientOptions struct {
	Command int32
}

type CommandClient struct {
	handler CommandClientHandler
	options CommandClientOptions

	access sync.Mutex
	conn   net.Conn
}

func NewCommandClient(handler CommandClientHandler, options *CommandClientOptions) *CommandClient {
	return &CommandClient{
		handler: handler,
		options: common.PtrValueOrDefault(options),
	}
}

// NewStandaloneCommandClient sends one-shot commands only.
func NewStandaloneCommandClient() *CommandClient {
	return new(CommandClient)
}

func dialCommandServer() (net.Conn, error) {
	if sCommandServerTCP {
		return net.DialTimeout("tcp", commandServerTCPAddr, commandRequestTimeout)
	}
	return net.DialUnix("unix", nil, &net.UnixAddr{
		Name: filepath.Join(sBasePath, commandServerSockName),
		Net:  "unix",
	})
}

func (c *CommandClient) directConnect(command int32) (net.Conn, error) {
	conn, err := dialCommandServer()
	if err != nil {
		return nil, E.Cause(err, "connect command server")
	}
	err = binary.Write(conn, binary.BigEndian, uint8(command))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *CommandClient) SendTileCommand(action string) error {
	conn, err := c.directConnect(CommandTileAction)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(commandRequestTimeout))
	err = writeString(conn, action)
	if err != nil {
		return err
	}
	return readResult(conn)
}

func (c *CommandClient) SendRefreshStatus() error {
	conn, err := c.directConnect(CommandRefreshStatus)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(commandRequestTimeout))
	return readResult(conn)
}

// Connect opens a streaming command and feeds it to the handler until the
// server or Disconnect closes it.
func (c *CommandClient) Connect() error {
	if c.handler == nil {
		return E.New("missing handler")
	}
	c.access.Lock()
	defer c.access.Unlock()
	common.Close(c.conn)
	switch c.options.Command {
	case CommandLog, CommandStatus:
	default:
		return E.New("not a streaming command: ", c.options.Command)
	}
	conn, err := c.directConnect(c.options.Command)
	if err != nil {
		return err
	}
	if c.options.Command == CommandStatus {
		err = readResult(conn)
		if err != nil {
			conn.Close()
			return err
		}
	}
	c.conn = conn
	c.handler.Connected()
	if c.options.Command == CommandLog {
		go c.handleLogConn(conn)
	} else {
		go c.handleStatusConn(conn)
	}
	return nil
}

func (c *CommandClient) Disconnect() error {
	c.access.Lock()
	defer c.access.Unlock()
	return common.Close(c.conn)
}

func (c *CommandClient) handleLogConn(conn net.Conn) {
	for {
		message, err := readString(conn)
		if err != nil {
			c.handler.Disconnected(err.Error())
			return
		}
		c.handler.WriteLog(message)
	}
}

func (c *CommandClient) handleStatusConn(conn net.Conn) {
	for {
		var active uint8
		err := binary.Read(conn, binary.BigEndian, &active)
		if err != nil {
			c.handler.Disconnected(err.Error())
			return
		}
		c.handler.WriteStatus(active != 0)
	}
}
