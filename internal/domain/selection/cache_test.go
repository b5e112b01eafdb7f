package selection

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/okian/duel/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func scored(id string, score float64) Entry {
	return Entry{Image: model.ImageRecord{ID: id, OwnerID: "owner-" + id, InPool: true}, Score: score}
}

func scores(entries []Entry) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.Score
	}
	return out
}

func TestScore(t *testing.T) {
	Convey("Given battle counts", t, func() {
		So(Score(0), ShouldEqual, 100)
		So(Score(30), ShouldEqual, 70)
		So(Score(99), ShouldEqual, 1)
		So(Score(100), ShouldEqual, 1)
		So(Score(5000), ShouldEqual, 1)
		So(NewEntry(model.ImageRecord{Battles: 60}).Score, ShouldEqual, 40)
	})
}

func TestCacheAdd(t *testing.T) {
	Convey("Given a cache holding scores 50, 30, 10", t, func() {
		c := NewCache()
		c.AddMultiple([]Entry{scored("a", 50), scored("b", 30), scored("c", 10)})

		Convey("When adding an entry scored 40", func() {
			kept := c.Add(scored("d", 40))

			Convey("Then it lands between 50 and 30", func() {
				So(kept, ShouldBeTrue)
				So(scores(c.Entries()), ShouldResemble, []float64{50, 40, 30, 10})
			})
		})

		Convey("When adding an entry with an equal score", func() {
			c.Add(scored("e", 30))

			Convey("Then the newer entry goes ahead of the existing tie", func() {
				entries := c.Entries()
				So(entries[1].Image.ID, ShouldEqual, "e")
				So(entries[2].Image.ID, ShouldEqual, "b")
			})
		})
	})

	Convey("Given a cache already holding an image", t, func() {
		c := NewCache()
		c.AddMultiple([]Entry{scored("a", 50), scored("b", 50)})

		Convey("When the same image is added again", func() {
			c.Add(scored("a", 20))
			c.AddMultiple([]Entry{scored("a", 40)})

			Convey("Then it replaces the old entry instead of duplicating it", func() {
				So(c.Size(), ShouldEqual, 2)
				entries := c.Entries()
				So(entries[0].Image.ID, ShouldEqual, "b")
				So(entries[1].Image.ID, ShouldEqual, "a")
				So(entries[1].Score, ShouldEqual, 40)
			})
		})

		Convey("When an image is removed", func() {
			So(c.Remove("a", "missing"), ShouldEqual, 1)

			Convey("Then only the other image remains", func() {
				So(c.Size(), ShouldEqual, 1)
				So(c.Entries()[0].Image.ID, ShouldEqual, "b")
				So(c.Remove(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a full cache of size 3 holding 50, 30, 10", t, func() {
		c := NewCache(WithMaxSize(3))
		c.AddMultiple([]Entry{scored("a", 50), scored("b", 30), scored("c", 10)})

		Convey("When adding a lower score", func() {
			kept := c.Add(scored("d", 5))

			Convey("Then it is rejected from the tail", func() {
				So(kept, ShouldBeFalse)
				So(scores(c.Entries()), ShouldResemble, []float64{50, 30, 10})
				So(c.Size(), ShouldEqual, 3)
			})
		})

		Convey("When adding a higher score", func() {
			kept := c.Add(scored("d", 20))

			Convey("Then the true minimum is evicted", func() {
				So(kept, ShouldBeTrue)
				So(scores(c.Entries()), ShouldResemble, []float64{50, 30, 20})
			})
		})

		Convey("When clearing", func() {
			c.Clear()
			So(c.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given random insertion sequences", t, func() {
		rng := rand.New(rand.NewSource(11)) //nolint:gosec // deterministic test input

		Convey("Then the bound, order and survivor set always hold", func() {
			for round := 0; round < 20; round++ {
				maxSize := 1 + rng.Intn(50)
				b := NewBuilder(maxSize)
				var seen []float64
				for i := 0; i < 200; i++ {
					s := float64(1 + rng.Intn(100))
					seen = append(seen, s)
					b.Add(scored(fmt.Sprintf("%d-%d", round, i), s))

					So(b.Size(), ShouldBeLessThanOrEqualTo, maxSize)
				}
				got := scores(b.Entries())
				So(sort.IsSorted(sort.Reverse(sort.Float64Slice(got))), ShouldBeTrue)

				sort.Sort(sort.Reverse(sort.Float64Slice(seen)))
				So(got, ShouldResemble, seen[:maxSize])
			}
		})
	})
}

func TestWeightedSample(t *testing.T) {
	Convey("Given a cache with several images per owner", t, func() {
		c := NewCache(WithRandom(rand.New(rand.NewSource(3)))) //nolint:gosec // deterministic test input
		var entries []Entry
		for o := 0; o < 6; o++ {
			for i := 0; i < 4; i++ {
				g := model.GenderFemale
				if o%2 == 1 {
					g = model.GenderMale
				}
				entries = append(entries, Entry{
					Image: model.ImageRecord{ID: fmt.Sprintf("img-%d-%d", o, i), OwnerID: fmt.Sprintf("owner-%d", o), Gender: g},
					Score: float64(10 + i*20),
				})
			}
		}
		c.AddMultiple(entries)
		female := func(img model.ImageRecord) bool { return img.Gender == model.GenderFemale }

		Convey("When sampling repeatedly", func() {
			Convey("Then owners are unique and the predicate holds", func() {
				for i := 0; i < 500; i++ {
					imgs, err := c.WeightedSample(3, female)
					So(err, ShouldBeNil)
					So(len(imgs), ShouldEqual, 3)
					owners := map[string]bool{}
					for _, img := range imgs {
						So(img.Gender, ShouldEqual, model.GenderFemale)
						So(owners[img.OwnerID], ShouldBeFalse)
						owners[img.OwnerID] = true
					}
				}
			})
		})

		Convey("When asking for more owners than exist", func() {
			imgs, err := c.WeightedSample(4, female)

			Convey("Then insufficient candidates is reported", func() {
				So(imgs, ShouldBeNil)
				So(errors.Is(err, model.ErrInsufficientCandidates), ShouldBeTrue)
			})
		})

		Convey("When no image matches", func() {
			_, err := c.WeightedSample(1, func(model.ImageRecord) bool { return false })
			So(errors.Is(err, model.ErrInsufficientCandidates), ShouldBeTrue)
		})

		Convey("When the count is not positive", func() {
			_, err := c.WeightedSample(0, nil)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			So(errors.Is(err, ErrInvalidCount), ShouldBeTrue)
		})
	})

	Convey("Given two owners weighted 90 and 10", t, func() {
		c := NewCache(WithRandom(rand.New(rand.NewSource(5)))) //nolint:gosec // deterministic test input
		c.Add(Entry{Image: model.ImageRecord{ID: "heavy", OwnerID: "h"}, Score: 90})
		c.Add(Entry{Image: model.ImageRecord{ID: "light", OwnerID: "l"}, Score: 10})

		Convey("Then single draws follow the weights", func() {
			heavy := 0
			const draws = 20000
			for i := 0; i < draws; i++ {
				imgs, err := c.WeightedSample(1, nil)
				So(err, ShouldBeNil)
				if imgs[0].ID == "heavy" {
					heavy++
				}
			}
			So(float64(heavy)/draws, ShouldAlmostEqual, 0.9, 0.02)
		})

		Convey("Then a pair always contains both owners", func() {
			imgs, err := c.WeightedSample(2, nil)
			So(err, ShouldBeNil)
			So(len(imgs), ShouldEqual, 2)
			So(imgs[0].OwnerID, ShouldNotEqual, imgs[1].OwnerID)
		})
	})
}

func TestCacheReplace(t *testing.T) {
	Convey("Given a cache read while snapshots are swapped", t, func() {
		c := NewCache()
		full := func() *Builder {
			b := c.NewBuilder()
			for i := 0; i < 100; i++ {
				b.Add(scored(fmt.Sprintf("x%d", i), float64(i%100+1)))
			}
			return b
		}
		c.Replace(full())

		Convey("Then readers only ever observe a complete snapshot", func() {
			var wg sync.WaitGroup
			stop := make(chan struct{})
			bad := make(chan int, 1)
			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						if n := c.Size(); n != 100 {
							select {
							case bad <- n:
							default:
							}
						}
					}
				}()
			}
			for i := 0; i < 200; i++ {
				c.Replace(full())
			}
			close(stop)
			wg.Wait()

			So(len(bad), ShouldEqual, 0)
		})

		Convey("Then a replaced builder is emptied", func() {
			b := full()
			c.Replace(b)
			So(b.Size(), ShouldEqual, 0)
			So(c.Size(), ShouldEqual, 100)
		})
	})
}
