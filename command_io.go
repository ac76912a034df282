package libbox

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"unicode/utf8"

	E "github.com/sagernet/sing/common/exceptions"
)

const maxCommandStringLength = 0xffff

func writeString(writer io.Writer, value string) error {
	if len(value) > maxCommandStringLength {
		cut := maxCommandStringLength
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		value = value[:cut]
	}
	err := binary.Write(writer, binary.BigEndian, uint16(len(value)))
	if err != nil {
		return err
	}
	_, err = io.WriteString(writer, value)
	return err
}

func readString(reader io.Reader) (string, error) {
	var length uint16
	err := binary.Read(reader, binary.BigEndian, &length)
	if err != nil {
		return "", err
	}
	content := make([]byte, length)
	_, err = io.ReadFull(reader, content)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func writeResult(writer io.Writer, resultErr error) error {
	if resultErr == nil {
		return binary.Write(writer, binary.BigEndian, uint8(0))
	}
	err := binary.Write(writer, binary.BigEndian, uint8(1))
	if err != nil {
		return err
	}
	return writeString(writer, resultErr.Error())
}

func readResult(reader io.Reader) error {
	var hasError uint8
	err := binary.Read(reader, binary.BigEndian, &hasError)
	if err != nil {
		return E.Cause(err, "read result")
	}
	if hasError == 0 {
		return nil
	}
	message, err := readString(reader)
	if err != nil {
		return E.Cause(err, "read error message")
	}
	return E.New(message)
}

// connKeepAlive is cancelled once the peer closes its side of a stream.
func connKeepAlive(conn net.Conn) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		var buffer [1]byte
		for {
			_, err := conn.Read(buffer[:])
			if err != nil {
				return
			}
		}
	}()
	return ctx
}
