package simulate

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"

	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
)

const importBatchSize = 500

// Image is a seeded image and the quality that decides its battles.
type Image struct {
	ID      string
	OwnerID string
	Gender  model.Gender
	Quality float64
}

// generateImages spreads n images round-robin over owners and draws a
// standard normal quality for each. Without a fixed gender, owners
// alternate between the two.
func generateImages(cfg *Config, rng *rand.Rand) []Image {
	images := make([]Image, cfg.Images)
	for i := range images {
		owner := i % cfg.Owners
		gender := cfg.Gender
		if gender == "" {
			gender = model.GenderFemale
			if owner%2 == 1 {
				gender = model.GenderMale
			}
		}
		images[i] = Image{
			ID:      cfg.Prefix + "img-" + strconv.Itoa(i),
			OwnerID: cfg.Prefix + "owner-" + strconv.Itoa(owner),
			Gender:  gender,
			Quality: rng.NormFloat64(),
		}
	}
	return images
}

// seedImages uploads the images through the import hook in batches.
func seedImages(ctx context.Context, c *Client, images []Image, log logger.Logger) (int, error) {
	seeded := 0
	for start := 0; start < len(images); start += importBatchSize {
		end := min(start+importBatchSize, len(images))
		batch := make([]service.ImageUpsert, 0, end-start)
		for _, img := range images[start:end] {
			batch = append(batch, service.ImageUpsert{
				ID:      img.ID,
				OwnerID: img.OwnerID,
				Gender:  img.Gender,
				InPool:  true,
			})
		}

		var res service.ImportResult
		status, err := c.Post(ctx, "/images", map[string]any{"images": batch}, &res)
		if err != nil {
			return seeded, fmt.Errorf("import batch at %d: %w", start, err)
		}
		if status != http.StatusOK {
			return seeded, fmt.Errorf("%w: import batch at %d: %d", ErrStatus, start, status)
		}
		seeded += res.Created + res.Updated
	}
	log.Info(ctx, "images seeded", logger.Int("count", seeded))
	return seeded, nil
}
