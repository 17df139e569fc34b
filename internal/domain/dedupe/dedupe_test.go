package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/matchpoint/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		So(d.Size(), ShouldEqual, 0)

		Convey("When a key is claimed for the first time", func() {
			id, claimed := d.Claim(ctx, "k1")

			Convey("Then the caller should own it", func() {
				So(claimed, ShouldBeTrue)
				So(id, ShouldEqual, "")
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And the key is claimed again before completion", func() {
				id, claimed := d.Claim(ctx, "k1")

				Convey("Then it should report an in-flight claim", func() {
					So(claimed, ShouldBeFalse)
					So(id, ShouldEqual, "")
				})
			})

			Convey("And the claim is completed", func() {
				d.Complete(ctx, "k1", "match-1")
				id, claimed := d.Claim(ctx, "k1")

				Convey("Then later claims should return the recorded id", func() {
					So(claimed, ShouldBeFalse)
					So(id, ShouldEqual, "match-1")
				})
			})

			Convey("And the claim is released", func() {
				d.Release(ctx, "k1")
				_, claimed := d.Claim(ctx, "k1")

				Convey("Then the key should be claimable again", func() {
					So(claimed, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When releasing or completing an unknown key", func() {
			d.Release(ctx, "missing")
			d.Complete(ctx, "missing", "x")

			Convey("Then nothing should be recorded", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		for i := 1; i <= 4; i++ {
			key := fmt.Sprintf("k%d", i)
			d.Claim(ctx, key)
			d.Complete(ctx, key, fmt.Sprintf("m%d", i))
		}

		Convey("Then the oldest key should have been evicted", func() {
			So(d.Size(), ShouldEqual, 3)

			_, claimed := d.Claim(ctx, "k1")
			So(claimed, ShouldBeTrue)

			id, claimed := d.Claim(ctx, "k4")
			So(claimed, ShouldBeFalse)
			So(id, ShouldEqual, "m4")
		})
	})

	Convey("Given concurrent claims of the same key", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		var owners atomic.Int64
		var wg sync.WaitGroup

		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, claimed := d.Claim(ctx, dedupe.Key("host", "same")); claimed {
					owners.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one caller should own it", func() {
			So(owners.Load(), ShouldEqual, 1)
		})
	})

	Convey("Given keys from different owners", t, func() {
		So(dedupe.Key("a", "k"), ShouldNotEqual, dedupe.Key("b", "k"))
	})
}
