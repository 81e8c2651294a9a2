package console

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestKeymapCommands(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		forward []byte
		command Command
	}{
		{"detach upper", []byte{Sentinel, 'D'}, nil, CommandDetach},
		{"detach lower", []byte{Sentinel, 'd'}, nil, CommandDetach},
		{"help", []byte{Sentinel, '?'}, nil, CommandHelp},
		{"power button", []byte{Sentinel, 'h'}, nil, CommandPowerButton},
		{"force stop", []byte{Sentinel, 'S'}, nil, CommandStop},
		{"restart", []byte{Sentinel, 'r'}, nil, CommandRestart},
		{"passthrough", []byte{Sentinel, 'B'}, []byte{Sentinel}, CommandNone},
		{"unrecognized re-emits escape", []byte{Sentinel, 'x'}, []byte{Sentinel, 'x'}, CommandNone},
		{"plain byte", []byte{'a'}, []byte{'a'}, CommandNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var k keymap
			var forwarded []byte
			var last action
			for _, b := range tt.input {
				last = k.feed(b)
				forwarded = append(forwarded, last.forward...)
			}
			assert.Equal(t, tt.forward, forwarded)
			assert.Equal(t, tt.command, last.command)
			assert.Equal(t, stateNormal, k.state, "every sequence must end back in normal state")
		})
	}
}

func TestKeymapProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("non-sentinel bytes pass through unmodified in normal state", prop.ForAll(
		func(b byte) bool {
			if b == Sentinel {
				return true
			}
			var k keymap
			act := k.feed(b)
			return len(act.forward) == 1 && act.forward[0] == b &&
				act.command == CommandNone && k.state == stateNormal
		},
		gen.UInt8(),
	))

	properties.Property("sentinel then unrecognized byte forwards exactly the pair", prop.ForAll(
		func(b byte) bool {
			if _, known := commandKeys[b]; known || b == 'b' || b == 'B' {
				return true
			}
			var k keymap
			k.feed(Sentinel)
			act := k.feed(b)
			return len(act.forward) == 2 && act.forward[0] == Sentinel && act.forward[1] == b
		},
		gen.UInt8(),
	))

	properties.Property("sentinel alone forwards nothing", prop.ForAll(
		func(n int) bool {
			var k keymap
			act := k.feed(Sentinel)
			return len(act.forward) == 0 && act.command == CommandNone
		},
		gen.IntRange(0, 1),
	))

	properties.TestingRun(t)
}
