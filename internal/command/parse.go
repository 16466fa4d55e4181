package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"keyva/internal/protocol"
	"keyva/internal/storage"
)

// Parser turns RESP arrays into typed commands. The clock is consulted
// when a SET carries a PX argument, which is converted to an absolute
// expiry at parse time.
type Parser struct {
	clock clock.Clock
}

func NewParser(clk clock.Clock) *Parser {
	return &Parser{clock: clk}
}

// Parse expects an array of bulk strings and dispatches on the lowercased
// first element. Error text is RESP-ready so callers can reply with it
// verbatim.
func (p *Parser) Parse(v protocol.Value) (Command, error) {
	array, ok := v.(protocol.Array)
	if !ok {
		return nil, errors.New("ERR expected command to be an array of bulk strings")
	}
	if len(array) == 0 {
		return nil, errors.New("ERR empty command")
	}

	args := make([][]byte, 0, len(array))
	for _, item := range array {
		bulk, ok := item.(protocol.BulkString)
		if !ok {
			return nil, errors.New("ERR expected command to be an array of bulk strings")
		}
		args = append(args, bulk)
	}

	name := strings.ToLower(string(args[0]))
	rest := args[1:]

	switch name {
	case "ping":
		return parsePing(rest)
	case "echo":
		return parseEcho(rest)
	case "config":
		return parseConfig(rest)
	case "info":
		return parseInfo(rest)
	case "get":
		return parseGet(rest)
	case "set":
		return p.parseSet(rest)
	case "keys":
		return parseKeys(rest)
	case "type":
		return parseType(rest)
	case "xadd":
		return parseXAdd(rest)
	case "replconf":
		return parseReplConf(rest)
	case "psync":
		return parsePSync(rest)
	case "wait":
		return parseWait(rest)
	default:
		return nil, errors.Errorf("ERR unknown command '%s'", name)
	}
}

func wrongArity(name string) error {
	return errors.Errorf("ERR wrong number of arguments for '%s' command", name)
}

func parsePing(args [][]byte) (Command, error) {
	switch len(args) {
	case 0:
		return Ping{}, nil
	case 1:
		return Ping{Message: args[0]}, nil
	default:
		return nil, wrongArity("ping")
	}
}

func parseEcho(args [][]byte) (Command, error) {
	if len(args) != 1 {
		return nil, wrongArity("echo")
	}
	return Echo{Message: args[0]}, nil
}

func parseConfig(args [][]byte) (Command, error) {
	if len(args) < 2 {
		return nil, wrongArity("config")
	}
	if !strings.EqualFold(string(args[0]), "get") {
		return nil, errors.Errorf("ERR unknown CONFIG subcommand '%s'", args[0])
	}

	keys := make([]string, 0, len(args)-1)
	for _, key := range args[1:] {
		keys = append(keys, string(key))
	}
	return ConfigGet{Keys: keys}, nil
}

func parseInfo(args [][]byte) (Command, error) {
	if len(args) > 1 {
		return nil, wrongArity("info")
	}
	section := SectionDefault
	if len(args) == 1 && strings.EqualFold(string(args[0]), "replication") {
		section = SectionReplication
	}
	return Info{Section: section}, nil
}

func parseGet(args [][]byte) (Command, error) {
	if len(args) != 1 {
		return nil, wrongArity("get")
	}
	return Get{Key: string(args[0])}, nil
}

// parseSet handles SET <key> <value> [PX <millis>]. The PX name is matched
// exactly; the expiry becomes absolute wall-clock time immediately.
func (p *Parser) parseSet(args [][]byte) (Command, error) {
	if len(args) != 2 && len(args) != 4 {
		return nil, wrongArity("set")
	}

	set := Set{Key: string(args[0]), Value: args[1]}
	if len(args) == 4 {
		if string(args[2]) != "PX" {
			return nil, errors.Errorf("ERR syntax error near '%s'", args[2])
		}
		millis, err := strconv.ParseInt(string(args[3]), 10, 64)
		if err != nil || millis <= 0 {
			return nil, errors.New("ERR invalid expire time in 'set' command")
		}
		expiresAt := p.clock.Now().Add(time.Duration(millis) * time.Millisecond)
		set.ExpiresAt = &expiresAt
	}
	return set, nil
}

func parseKeys(args [][]byte) (Command, error) {
	if len(args) != 1 {
		return nil, wrongArity("keys")
	}
	return Keys{Pattern: string(args[0])}, nil
}

func parseType(args [][]byte) (Command, error) {
	if len(args) != 1 {
		return nil, wrongArity("type")
	}
	return Type{Key: string(args[0])}, nil
}

func parseXAdd(args [][]byte) (Command, error) {
	// Key, entry id, and at least one field pair.
	if len(args) < 4 || len(args)%2 != 0 {
		return nil, wrongArity("xadd")
	}

	fields := make([]storage.Field, 0, (len(args)-2)/2)
	for i := 2; i < len(args); i += 2 {
		fields = append(fields, storage.Field{Name: args[i], Value: args[i+1]})
	}
	return XAdd{Key: string(args[0]), ID: string(args[1]), Fields: fields}, nil
}

func parseReplConf(args [][]byte) (Command, error) {
	if len(args) < 2 {
		return nil, wrongArity("replconf")
	}

	switch strings.ToLower(string(args[0])) {
	case "listening-port":
		port, err := strconv.ParseUint(string(args[1]), 10, 16)
		if err != nil {
			return nil, errors.Errorf("ERR invalid listening port '%s'", args[1])
		}
		return ReplConfPort{Port: uint16(port)}, nil

	case "capa":
		caps := make([]string, 0, len(args)-1)
		for _, capability := range args[1:] {
			caps = append(caps, string(capability))
		}
		return ReplConfCapa{Caps: caps}, nil

	case "getack":
		if string(args[1]) != "*" {
			return nil, errors.Errorf("ERR unsupported GETACK argument '%s'", args[1])
		}
		return ReplConfGetAck{}, nil

	case "ack":
		processed, err := strconv.ParseUint(string(args[1]), 10, 64)
		if err != nil {
			return nil, errors.Errorf("ERR invalid ack offset '%s'", args[1])
		}
		return ReplConfAck{Processed: processed}, nil

	default:
		return nil, errors.Errorf("ERR unknown REPLCONF option '%s'", args[0])
	}
}

func parsePSync(args [][]byte) (Command, error) {
	if len(args) != 2 {
		return nil, wrongArity("psync")
	}

	offset, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, errors.Errorf("ERR invalid PSYNC offset '%s'", args[1])
	}
	return PSync{ReplicationID: string(args[0]), Offset: offset}, nil
}

func parseWait(args [][]byte) (Command, error) {
	if len(args) != 2 {
		return nil, wrongArity("wait")
	}

	numReplicas, err := strconv.Atoi(string(args[0]))
	if err != nil || numReplicas < 0 {
		return nil, errors.Errorf("ERR invalid replica count '%s'", args[0])
	}
	timeoutMS, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil || timeoutMS < 0 {
		return nil, errors.Errorf("ERR invalid timeout '%s'", args[1])
	}
	return Wait{
		NumReplicas: numReplicas,
		Timeout:     time.Duration(timeoutMS) * time.Millisecond,
	}, nil
}
