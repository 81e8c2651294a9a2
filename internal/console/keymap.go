package console

// Sentinel is the command prefix byte (Ctrl-B). It is never forwarded on its
// own: the byte after it selects a command.
const Sentinel byte = 0x02

// Command is a local console command selected by the byte following the
// sentinel.
type Command int

const (
	// CommandNone: nothing to do beyond forwarding whatever feed returned.
	CommandNone Command = iota
	// CommandHelp prints the command summary locally.
	CommandHelp
	// CommandDetach closes the channel and returns control to the caller.
	CommandDetach
	// CommandPowerButton presses the VM power button (graceful shutdown).
	CommandPowerButton
	// CommandStop forces the VM off.
	CommandStop
	// CommandRestart resets the VM.
	CommandRestart
)

// commandKeys maps the byte following the sentinel to its command.
// Passthrough ('b'/'B') and unrecognized bytes are handled in feed, since
// they forward bytes rather than run a command.
var commandKeys = map[byte]Command{
	'?': CommandHelp,
	'd': CommandDetach,
	'D': CommandDetach,
	'h': CommandPowerButton,
	'H': CommandPowerButton,
	's': CommandStop,
	'S': CommandStop,
	'r': CommandRestart,
	'R': CommandRestart,
}

type state int

const (
	stateNormal state = iota
	stateAwaitingCommand
)

// keymap is the two-state machine over the local input stream.
type keymap struct {
	state state
}

// action is the outcome of feeding one byte: bytes to forward to the remote
// channel (possibly none) and a command to run locally (possibly none).
type action struct {
	forward []byte
	command Command
}

// feed consumes one input byte.
//
// In the normal state every byte is forwarded verbatim except the sentinel,
// which arms the command state without being forwarded. In the command state
// the byte selects a command; 'b'/'B' forwards a literal sentinel, and an
// unrecognized byte re-emits the full two-byte escape sequence so the remote
// side sees exactly what was typed.
func (k *keymap) feed(b byte) action {
	if k.state == stateNormal {
		if b == Sentinel {
			k.state = stateAwaitingCommand
			return action{}
		}
		return action{forward: []byte{b}}
	}

	k.state = stateNormal
	if cmd, ok := commandKeys[b]; ok {
		return action{command: cmd}
	}
	if b == 'b' || b == 'B' {
		return action{forward: []byte{Sentinel}}
	}
	return action{forward: []byte{Sentinel, b}}
}

// helpText is printed on Ctrl-B ?. Raw terminal mode needs explicit \r\n.
const helpText = "\r\n" +
	"    Ctrl-B ? : show this help\r\n" +
	"    Ctrl-B D : detach the console\r\n" +
	"    Ctrl-B H : press the VM power button\r\n" +
	"    Ctrl-B S : force the VM off\r\n" +
	"    Ctrl-B R : restart the VM\r\n" +
	"    Ctrl-B B : send a literal Ctrl-B\r\n"
