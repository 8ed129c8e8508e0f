package fallback

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sells-group/permit-cli/internal/model"
)

// DefaultSyntheticCount is the size of a synthetic set when the source does
// not configure one.
const DefaultSyntheticCount = 10

var (
	syntheticStreets = []string{"Main St", "Oak Ave", "Pine Rd", "Elm St", "Maple Dr", "Cedar Ln", "Park Blvd", "Lake Dr"}
	syntheticTypes   = []string{
		"Residential Addition", "Kitchen Remodel", "Bathroom Renovation", "Deck Construction",
		"Roof Replacement", "New Construction", "HVAC Installation", "Electrical Work",
	}
)

// Synthesize builds a deterministic placeholder set for desc on date. The
// same source and date always produce the same records, and every address
// carries the source's city and jurisdiction code.
func Synthesize(desc model.SourceDescriptor, date time.Time) []model.Record {
	n := desc.SyntheticCount
	if n <= 0 {
		n = DefaultSyntheticCount
	}
	day := model.TruncateDay(date)
	stamp := day.Format("20060102")

	h := fnv.New64a()
	h.Write([]byte(desc.ID + "|" + stamp)) //nolint:errcheck
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	prefix := strings.ToUpper(desc.ID)
	city := desc.Locality()
	juris := strings.ToUpper(desc.Jurisdiction)

	out := make([]model.Record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Record{
			Identifier:     fmt.Sprintf("SYN-%s-%s-%03d", prefix, stamp, i),
			Address:        fmt.Sprintf("%d %s, %s, %s", 100+rng.IntN(9900), syntheticStreets[rng.IntN(len(syntheticStreets))], city, juris),
			Category:       syntheticTypes[rng.IntN(len(syntheticTypes))],
			EstimatedValue: float64(5000 + rng.IntN(145001)),
			IssuedAt:       day.AddDate(0, 0, -(1 + rng.IntN(30))),
			Status:         "Issued",
		})
	}
	return out
}
