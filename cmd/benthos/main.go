package main

import (
	"context"

	"github.com/benthosdev/benthos/v4/public/service"

	// Register the erc20_balance_changes processor
	_ "github.com/web3ekko/ekko-erc20/pkg/processors/balances"
)

func main() {
	service.RunCLI(context.Background())
}
