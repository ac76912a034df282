package libbox

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/debug"
	E "github.com/sagernet/sing/common/exceptions"
	F "github.com/sagernet/sing/common/format"
	"github.com/sagernet/sing/common/observable"
	"github.com/sagernet/sing/common/x/list"
	"github.com/v2fly/v2ray-core/v5/common/log"
)

// CommandServer carries the inter-process signals: tile commands into the
// running front-end, refresh requests into the status surface, and log and
// status streams out to clients.
type CommandServer struct {
	listener net.Listener

	access     sync.Mutex
	savedLines list.List[string]
	maxLines   int
	subscriber *observable.Subscriber[string]
	observer   *observable.Observer[string]
	service    *Service
}

func NewCommandServer(maxLines int32) *CommandServer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLogLines
	}
	server := &CommandServer{
		maxLines:   int(maxLines),
		subscriber: observable.NewSubscriber[string](128),
	}
	server.observer = observable.NewObserver[string](server.subscriber, 64)
	return server
}

func (s *CommandServer) SetService(newService *Service) {
	s.access.Lock()
	defer s.access.Unlock()
	s.service = newService
}

func (s *CommandServer) currentService() (*Service, error) {
	s.access.Lock()
	defer s.access.Unlock()
	if s.service == nil {
		return nil, E.New("service not ready")
	}
	return s.service, nil
}

func (s *CommandServer) Start() error {
	updateLogTarget(func() {
		logServer = s
	})
	if !sCommandServerTCP {
		return s.listenUNIX()
	} else {
		return s.listenTCP()
	}
}

func (s *CommandServer) listenUNIX() error {
	sockPath := filepath.Join(sBasePath, commandServerSockName)
	os.Remove(sockPath)
	listener, err := net.ListenUnix("unix", &net.UnixAddr{
		Name: sockPath,
		Net:  "unix",
	})
	if err != nil {
		return E.Cause(err, "listen ", sockPath)
	}
	err = os.Chown(sockPath, sUserID, sGroupID)
	if err != nil {
		listener.Close()
		os.Remove(sockPath)
		return E.Cause(err, "chown")
	}
	s.listener = listener
	go s.loopConnection(listener)
	return nil
}

func (s *CommandServer) listenTCP() error {
	listener, err := net.Listen("tcp", commandServerTCPAddr)
	if err != nil {
		return E.Cause(err, "listen")
	}
	s.listener = listener
	go s.loopConnection(listener)
	return nil
}

func (s *CommandServer) Close() error {
	updateLogTarget(func() {
		if logServer == s {
			logServer = nil
		}
	})
	return common.Close(
		s.listener,
		s.observer,
	)
}

func (s *CommandServer) loopConnection(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go func() {
			hErr := s.handleConnection(conn)
			if hErr != nil && !E.IsClosed(hErr) {
				if debug.Enabled {
					log.Record(&log.GeneralMessage{
						Severity: log.Severity_Error,
						Content:  F.ToString("command server serve error: ", hErr),
					})
				}
			}
		}()
	}
}

func (s *CommandServer) handleConnection(conn net.Conn) error {
	defer conn.Close()
	var command uint8
	err := binary.Read(conn, binary.BigEndian, &command)
	if err != nil {
		return E.Cause(err, "read command")
	}
	switch int32(command) {
	case CommandLog:
		return s.handleLogConn(conn)
	case CommandStatus:
		return s.handleStatusConn(conn)
	case CommandTileAction:
		return s.handleTileAction(conn)
	case CommandRefreshStatus:
		return s.handleRefreshStatus(conn)
	default:
		return E.New("unknown command: ", command)
	}
}
