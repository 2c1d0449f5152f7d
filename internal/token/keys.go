package token

import "github.com/ethereum/go-ethereum/common"

var (
	recordPrefix    = []byte("t:") // t: + token
	balancePrefix   = []byte("b:") // b: + token + holder
	allowancePrefix = []byte("a:") // a: + token + owner + spender
)

// recordKey builds "t:" + token.
func recordKey(token common.Address) []byte {
	return joinKey(recordPrefix, token)
}

// balanceKey builds "b:" + token + holder.
func balanceKey(token, holder common.Address) []byte {
	return joinKey(balancePrefix, token, holder)
}

// allowanceKey builds "a:" + token + owner + spender.
func allowanceKey(token, owner, spender common.Address) []byte {
	return joinKey(allowancePrefix, token, owner, spender)
}

func joinKey(prefix []byte, addrs ...common.Address) []byte {
	key := make([]byte, 0, len(prefix)+len(addrs)*common.AddressLength)
	key = append(key, prefix...)

	for _, addr := range addrs {
		key = append(key, addr.Bytes()...)
	}

	return key
}
