package libbox

import (
	"encoding/binary"
	"io"
	"net"
)

func writeStatus(writer io.Writer, active bool) error {
	var value uint8
	if active {
		value = 1
	}
	return binary.Write(writer, binary.BigEndian, value)
}

func (s *CommandServer) handleStatusConn(conn net.Conn) error {
	service, err := s.currentService()
	if err != nil {
		return writeResult(conn, err)
	}
	err = writeResult(conn, nil)
	if err != nil {
		return err
	}
	status := service.status
	subscription, done, err := status.observer.Subscribe()
	if err != nil {
		return err
	}
	defer status.observer.UnSubscribe(subscription)
	err = writeStatus(conn, status.IsActive())
	if err != nil {
		return err
	}
	ctx := connKeepAlive(conn)
	for {
		select {
		case <-ctx.Done():
			return nil
		case active := <-subscription:
			err = writeStatus(conn, active)
			if err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}

func (s *CommandServer) handleTileAction(conn net.Conn) error {
	action, err := readString(conn)
	if err != nil {
		return err
	}
	service, err := s.currentService()
	if err == nil {
		err = service.HandleTileCommand(action)
	}
	return writeResult(conn, err)
}

func (s *CommandServer) handleRefreshStatus(conn net.Conn) error {
	service, err := s.currentService()
	if err == nil {
		service.status.HandleRefreshSignal()
	}
	return writeResult(conn, err)
}
