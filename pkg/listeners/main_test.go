package listeners

import (
	"os"
	"testing"

	"github.com/web3ekko/ekko-erc20/pkg/testutils"
)

func TestMain(m *testing.M) {
	code := m.Run()
	testutils.CleanupTestEnvironment()
	os.Exit(code)
}
