package adapter

import (
	"time"

	"github.com/sells-group/permit-cli/internal/fetcher"
)

var fixedNow = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

func testDeps() Deps {
	hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second, DefaultRate: 1000})
	return Deps{
		Fetcher: &fetcher.Router{
			HTTP: hf,
			FTP:  fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: time.Second}),
		},
		Limiters:    hf,
		HTTPTimeout: 5 * time.Second,
		Now:         func() time.Time { return fixedNow },
	}
}
