package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Parent and child exchange length-prefixed msgpack messages: a 4 byte
// big-endian length followed by the encoded message.
//
//	parent -> child   start
//	child  -> parent  ready | open_failed, then stats..., then exit
//
// The child treats EOF on its stdin as a request to stop.
const (
	msgStart      = "start"
	msgReady      = "ready"
	msgOpenFailed = "open_failed"
	msgStats      = "stats"
	msgExit       = "exit"
)

const maxMessageSize = 1 << 20

type message struct {
	Type       string  `msgpack:"type"`
	Name       string  `msgpack:"name,omitempty"`
	InstanceID string  `msgpack:"instance_id,omitempty"`
	Config     *Config `msgpack:"config,omitempty"`
	Stats      *Stats  `msgpack:"stats,omitempty"`
	State      State   `msgpack:"state,omitempty"`
	Error      string  `msgpack:"error,omitempty"`
}

func writeMessage(w io.Writer, msg message) error {
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Type, err)
	}
	return nil
}

func readMessage(r io.Reader) (message, error) {
	var msg message

	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return msg, err
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length > maxMessageSize {
		return msg, fmt.Errorf("message too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return msg, fmt.Errorf("failed to read message body: %w", err)
	}

	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}
