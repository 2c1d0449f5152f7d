package ledger

import "Launchpad/internal/events"

var (
	TokenClaimedEvent = events.Define("TokenClaimed",
		events.Arg{Name: "user", Type: "address"},
		events.Arg{Name: "amount", Type: "uint256"},
		events.Arg{Name: "roundId", Type: "uint256"},
	)

	SignerUpdatedEvent = events.Define("SignerUpdated",
		events.Arg{Name: "oldSigner", Type: "address"},
		events.Arg{Name: "newSigner", Type: "address"},
	)

	InvestmentsWithdrawnEvent = events.Define("InvestmentsWithdrawn",
		events.Arg{Name: "owner", Type: "address"},
		events.Arg{Name: "amount", Type: "uint256"},
	)

	ProceedsWithdrawnEvent = events.Define("ProceedsWithdrawn",
		events.Arg{Name: "owner", Type: "address"},
		events.Arg{Name: "amount", Type: "uint256"},
	)

	TokensPurchasedEvent = events.Define("TokensPurchased",
		events.Arg{Name: "buyer", Type: "address"},
		events.Arg{Name: "amount", Type: "uint256"},
		events.Arg{Name: "cost", Type: "uint256"},
	)

	LaunchpadFinalizedEvent = events.Define("LaunchpadFinalized")

	// OwnershipTransferredEvent is shared by every owned contract.
	OwnershipTransferredEvent = events.Define("OwnershipTransferred",
		events.Arg{Name: "previousOwner", Type: "address"},
		events.Arg{Name: "newOwner", Type: "address"},
	)
)
