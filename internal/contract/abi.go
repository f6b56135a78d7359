package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultAddress is the deployed greeter contract.
const DefaultAddress = "0x9a36d7337a77e06584Fc3fB22948c430867f5A7b"

const (
	methodGet = "getGreeting"
	methodSet = "setGreeting"
)

// GreeterABI describes the two remote operations the client uses.
const GreeterABI = `[
  {"type":"function","name":"getGreeting","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"setGreeting","stateMutability":"nonpayable","inputs":[{"name":"_greeting","type":"string"}],"outputs":[]}
]`

var parsedABI = mustParseABI(GreeterABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ABI returns the parsed contract ABI.
func ABI() abi.ABI { return parsedABI }
