package payment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// transferABI is the single ERC-20 method the verifier decodes.
const transferABI = `[{
	"inputs": [
		{"internalType": "address", "name": "recipient", "type": "address"},
		{"internalType": "uint256", "name": "amount", "type": "uint256"}
	],
	"name": "transfer",
	"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

var transferMethod abi.Method

func init() {
	parsed, err := abi.JSON(strings.NewReader(transferABI))
	if err != nil {
		panic(fmt.Sprintf("payment: parse transfer ABI: %v", err))
	}
	transferMethod = parsed.Methods["transfer"]
}

// decodeTransfer unpacks an ERC-20 transfer(recipient, amount) calldata
// blob. It fails when the selector is not the transfer selector or the
// arguments don't unpack.
func decodeTransfer(input []byte) (common.Address, *big.Int, error) {
	if len(input) < 4 {
		return common.Address{}, nil, fmt.Errorf("calldata too short (%d bytes)", len(input))
	}
	if !strings.EqualFold(common.Bytes2Hex(input[:4]), common.Bytes2Hex(transferMethod.ID)) {
		return common.Address{}, nil, fmt.Errorf("not a transfer call (selector 0x%x)", input[:4])
	}

	values, err := transferMethod.Inputs.Unpack(input[4:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("unpack transfer arguments: %w", err)
	}
	if len(values) != 2 {
		return common.Address{}, nil, fmt.Errorf("unexpected argument count %d", len(values))
	}

	recipient, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected recipient type %T", values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected amount type %T", values[1])
	}
	return recipient, amount, nil
}

// scaleAmount converts integer token units to the human-facing amount by
// dividing by 10^decimals (USDC carries 6 decimals).
func scaleAmount(units *big.Int, decimals int) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Float).Quo(new(big.Float).SetInt(units), new(big.Float).SetInt(scale))
	f, _ := value.Float64()
	return f
}
