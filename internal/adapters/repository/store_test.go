package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duel/internal/domain/model"
)

var errBoom = errors.New("boom")

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func localStores() []storeFactory {
	return []storeFactory{
		{name: BackendMemory, open: func(*testing.T) Store { return NewMemoryStore(WithSeed(7)) }},
		{name: BackendBadger, open: func(t *testing.T) Store {
			s, err := NewBadgerStore()
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			return s
		}},
	}
}

func testImage(id string, g model.Gender, rating, seed float64) model.ImageRecord {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.ImageRecord{
		ID:         id,
		OwnerID:    "owner-" + id,
		Gender:     g,
		Rating:     model.NewRatingState(rating, 350, 0.06, at),
		InPool:     true,
		RandomSeed: seed,
		Status:     model.StatusActive,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func ids(imgs []model.ImageRecord) []string {
	out := make([]string, len(imgs))
	for i, img := range imgs {
		out[i] = img.ID
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for _, f := range localStores() {
		runStoreContract(t, f)
	}
}

func runStoreContract(t *testing.T, f storeFactory) {
	ctx := context.Background()

	Convey("Given a "+f.name+" store", t, func() {
		s := f.open(t)
		Reset(func() { _ = s.Close() })

		Convey("Unknown images are not found", func() {
			_, err := s.GetImage(ctx, "missing")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Invalid images are rejected", func() {
			So(errors.Is(s.PutImage(ctx, model.ImageRecord{}), ErrInvalidImage), ShouldBeTrue)
			bad := testImage("a", model.GenderMale, 1500, 1.0)
			So(errors.Is(s.PutImage(ctx, bad), ErrInvalidImage), ShouldBeTrue)
			noGender := testImage("b", "", 1500, 0.5)
			So(errors.Is(s.PutImage(ctx, noGender), ErrInvalidImage), ShouldBeTrue)
		})

		Convey("Images round-trip", func() {
			img := testImage("a", model.GenderFemale, 1612.5, 0.25)
			img.Battles, img.Wins = 3, 2
			So(s.PutImage(ctx, img), ShouldBeNil)

			got, err := s.GetImage(ctx, "a")
			So(err, ShouldBeNil)
			So(got.OwnerID, ShouldEqual, "owner-a")
			So(got.Rating.Rating, ShouldEqual, 1612.5)
			So(got.Battles, ShouldEqual, 3)
			So(got.Wins, ShouldEqual, 2)
			So(got.CreatedAt.Equal(img.CreatedAt), ShouldBeTrue)
		})

		Convey("With a populated pool", func() {
			So(s.PutImage(ctx, testImage("m1", model.GenderMale, 1400, 0.10)), ShouldBeNil)
			So(s.PutImage(ctx, testImage("m2", model.GenderMale, 1600, 0.70)), ShouldBeNil)
			So(s.PutImage(ctx, testImage("f1", model.GenderFemale, 1500, 0.40)), ShouldBeNil)
			So(s.PutImage(ctx, testImage("f2", model.GenderFemale, 1500, 0.90)), ShouldBeNil)
			out := testImage("out", model.GenderMale, 2000, 0.50)
			out.InPool = false
			So(s.PutImage(ctx, out), ShouldBeNil)
			pending := testImage("pending", model.GenderFemale, 100, 0.55)
			pending.Status = model.StatusPending
			So(s.PutImage(ctx, pending), ShouldBeNil)

			Convey("Only eligible images are counted", func() {
				n, err := s.CountPool(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 4)
			})

			Convey("ScanPool walks seed order strictly after the cursor", func() {
				first, err := s.ScanPool(ctx, model.StartCursor, 2)
				So(err, ShouldBeNil)
				So(ids(first), ShouldResemble, []string{"m1", "f1"})

				last := first[len(first)-1]
				rest, err := s.ScanPool(ctx, model.PoolCursor{Seed: last.RandomSeed, ID: last.ID}, 10)
				So(err, ShouldBeNil)
				So(ids(rest), ShouldResemble, []string{"m2", "f2"})

				_, err = s.ScanPool(ctx, model.StartCursor, 0)
				So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
			})

			Convey("QueryRanked orders by rating with id tie-breaks", func() {
				top, err := s.QueryRanked(ctx, "", model.DirectionTop, 10)
				So(err, ShouldBeNil)
				So(ids(top), ShouldResemble, []string{"m2", "f2", "f1", "m1"})

				bottom, err := s.QueryRanked(ctx, "", model.DirectionBottom, 3)
				So(err, ShouldBeNil)
				So(ids(bottom), ShouldResemble, []string{"m1", "f1", "f2"})

				female, err := s.QueryRanked(ctx, model.GenderFemale, model.DirectionTop, 1)
				So(err, ShouldBeNil)
				So(ids(female), ShouldResemble, []string{"f2"})

				_, err = s.QueryRanked(ctx, "", "sideways", 1)
				So(errors.Is(err, ErrInvalidQuery), ShouldBeTrue)
			})

			Convey("Re-putting an image moves its index entries", func() {
				m1, err := s.GetImage(ctx, "m1")
				So(err, ShouldBeNil)
				m1.Rating = model.NewRatingState(1700, 300, 0.06, m1.Rating.LastUpdateAt)
				m1.InPool = true
				So(s.PutImage(ctx, m1), ShouldBeNil)

				top, err := s.QueryRanked(ctx, model.GenderMale, model.DirectionTop, 10)
				So(err, ShouldBeNil)
				So(ids(top), ShouldResemble, []string{"m1", "m2"})

				m1.InPool = false
				So(s.PutImage(ctx, m1), ShouldBeNil)
				n, err := s.CountPool(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
			})
		})

		Convey("Update commits every write together", func() {
			So(s.PutImage(ctx, testImage("w", model.GenderMale, 1500, 0.1)), ShouldBeNil)
			So(s.PutImage(ctx, testImage("l", model.GenderMale, 1500, 0.2)), ShouldBeNil)

			err := s.Update(ctx, func(tx Tx) error {
				w, err := tx.GetImage(ctx, "w")
				if err != nil {
					return err
				}
				w.Wins++
				w.Battles++
				if err := tx.PutImage(ctx, w); err != nil {
					return err
				}
				again, err := tx.GetImage(ctx, "w")
				if err != nil {
					return err
				}
				if again.Wins != 1 {
					return fmt.Errorf("transaction did not read its own write")
				}
				return tx.AppendBattle(ctx, model.BattleRecord{ID: "b1", WinnerImageID: "w", LoserImageID: "l"})
			})
			So(err, ShouldBeNil)

			w, err := s.GetImage(ctx, "w")
			So(err, ShouldBeNil)
			So(w.Wins, ShouldEqual, 1)

			battles, err := s.ListBattles(ctx, 0)
			So(err, ShouldBeNil)
			So(len(battles), ShouldEqual, 1)
			So(battles[0].WinnerImageID, ShouldEqual, "w")
		})

		Convey("A failing Update leaves no trace", func() {
			So(s.PutImage(ctx, testImage("w", model.GenderMale, 1500, 0.1)), ShouldBeNil)

			err := s.Update(ctx, func(tx Tx) error {
				w, err := tx.GetImage(ctx, "w")
				if err != nil {
					return err
				}
				w.Rating = model.NewRatingState(1900, 100, 0.06, w.Rating.LastUpdateAt)
				if err := tx.PutImage(ctx, w); err != nil {
					return err
				}
				if err := tx.AppendBattle(ctx, model.BattleRecord{ID: "b1"}); err != nil {
					return err
				}
				return errBoom
			})
			So(errors.Is(err, errBoom), ShouldBeTrue)

			w, err := s.GetImage(ctx, "w")
			So(err, ShouldBeNil)
			So(w.Rating.Rating, ShouldEqual, 1500)

			battles, err := s.ListBattles(ctx, 0)
			So(err, ShouldBeNil)
			So(battles, ShouldBeEmpty)

			top, err := s.QueryRanked(ctx, "", model.DirectionTop, 1)
			So(err, ShouldBeNil)
			So(top[0].Rating.Rating, ShouldEqual, 1500)
		})

		Convey("Concurrent increments are serialized", func() {
			So(s.PutImage(ctx, testImage("c", model.GenderFemale, 1500, 0.3)), ShouldBeNil)

			const workers = 8
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- s.Update(ctx, func(tx Tx) error {
						img, err := tx.GetImage(ctx, "c")
						if err != nil {
							return err
						}
						img.Battles++
						return tx.PutImage(ctx, img)
					})
				}()
			}
			wg.Wait()
			close(errs)

			succeeded := 0
			for err := range errs {
				if err == nil {
					succeeded++
				} else {
					So(errors.Is(err, ErrConflict), ShouldBeTrue)
				}
			}
			c, err := s.GetImage(ctx, "c")
			So(err, ShouldBeNil)
			So(c.Battles, ShouldEqual, succeeded)
		})

		Convey("Battles list in commit order and honor the limit", func() {
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("b%d", i)
				So(s.Update(ctx, func(tx Tx) error {
					return tx.AppendBattle(ctx, model.BattleRecord{ID: id})
				}), ShouldBeNil)
			}
			all, err := s.ListBattles(ctx, 0)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 3)
			So(all[0].ID, ShouldEqual, "b0")
			So(all[2].ID, ShouldEqual, "b2")

			two, err := s.ListBattles(ctx, 2)
			So(err, ShouldBeNil)
			So(len(two), ShouldEqual, 2)
		})

		Convey("Leaderboards and metadata are replaced wholesale", func() {
			_, err := s.GetLeaderboard(ctx, "top")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			_, err = s.GetMetadata(ctx)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)

			doc := model.LeaderboardDocument{
				Key:         "top",
				Entries:     []model.LeaderboardEntry{{Rank: 1, ImageID: "a"}, {Rank: 2, ImageID: "b"}},
				UpdateCount: 1,
			}
			So(s.PutLeaderboard(ctx, doc), ShouldBeNil)
			doc.Entries = []model.LeaderboardEntry{{Rank: 1, ImageID: "c"}}
			doc.UpdateCount = 2
			So(s.PutLeaderboard(ctx, doc), ShouldBeNil)

			got, err := s.GetLeaderboard(ctx, "top")
			So(err, ShouldBeNil)
			So(got.UpdateCount, ShouldEqual, 2)
			So(len(got.Entries), ShouldEqual, 1)
			So(got.Entries[0].ImageID, ShouldEqual, "c")

			So(s.PutMetadata(ctx, model.GlobalMetadata{LastRunStatus: model.RunSuccess, Processed: 2}), ShouldBeNil)
			meta, err := s.GetMetadata(ctx)
			So(err, ShouldBeNil)
			So(meta.Processed, ShouldEqual, 2)
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Open picks the backend by name", t, func() {
		ctx := context.Background()

		s, err := Open(ctx, BackendMemory)
		So(err, ShouldBeNil)
		So(s, ShouldHaveSameTypeAs, &MemoryStore{})
		So(s.Close(), ShouldBeNil)

		s, err = Open(ctx, BackendBadger)
		So(err, ShouldBeNil)
		So(s, ShouldHaveSameTypeAs, &BadgerStore{})
		So(s.Close(), ShouldBeNil)

		_, err = Open(ctx, BackendPostgres)
		So(errors.Is(err, ErrMissingDSN), ShouldBeTrue)

		_, err = Open(ctx, "cassandra")
		So(errors.Is(err, ErrUnknownBackend), ShouldBeTrue)
	})
}

func TestClosedStore(t *testing.T) {
	Convey("A closed memory store refuses work", t, func() {
		s := NewMemoryStore()
		So(s.Close(), ShouldBeNil)
		_, err := s.CountPool(context.Background())
		So(errors.Is(err, ErrClosed), ShouldBeTrue)
		So(errors.Is(s.Update(context.Background(), func(Tx) error { return nil }), ErrClosed), ShouldBeTrue)
	})
}
