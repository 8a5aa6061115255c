package txinterface

import "fmt"

// TxID identifies a transaction inside one log. It is written to disk as a
// big-endian int32 and is only unique among the transactions currently open
// in that log.
type TxID int32

// NoTx is never handed out to a live transaction.
const NoTx TxID = 0

func (id TxID) String() string {
	return fmt.Sprintf("tx-%d", int32(id))
}
