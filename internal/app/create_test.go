package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	service "github.com/okian/matchpoint/internal/app"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCreateMatch(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with the default policy", t, func() {
		f := newFixture()

		Convey("When a valid match is created without rules", func() {
			m, err := f.svc.CreateMatch(ctx, "host", spec(10))

			Convey("Then it should be scheduled with the default rules", func() {
				So(err, ShouldBeNil)
				So(m.ID, ShouldNotBeEmpty)
				So(m.Host, ShouldEqual, "host")
				So(m.Status, ShouldEqual, model.StatusScheduled)
				So(m.Eligibility, ShouldResemble, model.Eligibility{MinAge: 18, MaxAge: 60, Gender: model.GenderAny})
				So(m.Visibility, ShouldEqual, model.VisibilityPrivate)
				So(m.Participants, ShouldBeEmpty)
				So(m.Version, ShouldEqual, 1)

				got, err := f.svc.GetMatch(ctx, m.ID)
				So(err, ShouldBeNil)
				So(got.ID, ShouldEqual, m.ID)
			})
		})

		Convey("When rules and metadata are supplied", func() {
			sp := spec(4)
			sp.MinAge = intPtr(0)
			sp.MaxAge = intPtr(100)
			sp.Gender = "Mixed"
			sp.Visibility = "PUBLIC"
			sp.Description = "bring shin pads"
			m, err := f.svc.CreateMatch(ctx, "host", sp)

			Convey("Then they should be normalised and kept", func() {
				So(err, ShouldBeNil)
				So(m.Eligibility, ShouldResemble, model.Eligibility{MinAge: 0, MaxAge: 100, Gender: model.GenderMixed})
				So(m.Visibility, ShouldEqual, model.VisibilityPublic)
				So(m.Description, ShouldEqual, "bring shin pads")
			})
		})

		Convey("When the input is invalid", func() {
			cases := map[string]func(*service.CreateSpec){
				"missing sport":      func(sp *service.CreateSpec) { sp.Sport = "  " },
				"past datetime":      func(sp *service.CreateSpec) { sp.Datetime = testNow.Add(-time.Minute) },
				"zero datetime":      func(sp *service.CreateSpec) { sp.Datetime = time.Time{} },
				"capacity too small": func(sp *service.CreateSpec) { sp.Capacity = 1 },
				"capacity too large": func(sp *service.CreateSpec) { sp.Capacity = 23 },
				"bad latitude":       func(sp *service.CreateSpec) { sp.Location = geo.Point{Lat: 91, Lng: 0} },
				"bad longitude":      func(sp *service.CreateSpec) { sp.Location = geo.Point{Lat: 0, Lng: -181} },
				"min above max":      func(sp *service.CreateSpec) { sp.MinAge, sp.MaxAge = intPtr(40), intPtr(30) },
				"age over ceiling":   func(sp *service.CreateSpec) { sp.MaxAge = intPtr(101) },
				"negative age":       func(sp *service.CreateSpec) { sp.MinAge = intPtr(-1) },
				"unknown gender":     func(sp *service.CreateSpec) { sp.Gender = "other" },
				"unknown visibility": func(sp *service.CreateSpec) { sp.Visibility = "friends" },
			}

			Convey("Then every case should be a validation error", func() {
				for name, edit := range cases {
					sp := spec(4)
					edit(&sp)
					_, err := f.svc.CreateMatch(ctx, "host", sp)
					So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
					So(name, ShouldNotBeEmpty)
				}
				So(f.svc.GetStats()["totalMatches"], ShouldEqual, 0)
			})
		})

		Convey("When the host is anonymous", func() {
			_, err := f.svc.CreateMatch(ctx, "", spec(4))

			Convey("Then it should be unauthenticated", func() {
				So(errors.Is(err, apperror.ErrUnauthenticated), ShouldBeTrue)
			})
		})

		Convey("When the same idempotency key is reused", func() {
			sp := spec(4)
			sp.IdempotencyKey = "req-1"
			first, err := f.svc.CreateMatch(ctx, "host", sp)
			So(err, ShouldBeNil)
			second, err := f.svc.CreateMatch(ctx, "host", sp)

			Convey("Then the original match should be returned", func() {
				So(err, ShouldBeNil)
				So(second.ID, ShouldEqual, first.ID)
				So(f.svc.GetStats()["totalMatches"], ShouldEqual, 1)
			})

			Convey("And another host with the same key gets its own match", func() {
				other, err := f.svc.CreateMatch(ctx, "u1", sp)
				So(err, ShouldBeNil)
				So(other.ID, ShouldNotEqual, first.ID)
			})
		})

		Convey("When a keyed request fails validation", func() {
			sp := spec(1)
			sp.IdempotencyKey = "req-2"
			_, err := f.svc.CreateMatch(ctx, "host", sp)
			So(err, ShouldNotBeNil)

			sp.Capacity = 4
			m, err := f.svc.CreateMatch(ctx, "host", sp)

			Convey("Then the corrected retry should create the match", func() {
				So(err, ShouldBeNil)
				So(m.Capacity, ShouldEqual, 4)
			})
		})

		Convey("When keyed requests race", func() {
			sp := spec(4)
			sp.IdempotencyKey = "req-3"
			var wg sync.WaitGroup
			ids := make([]string, 8)
			errs := make([]error, 8)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					m, err := f.svc.CreateMatch(ctx, "host", sp)
					ids[i], errs[i] = m.ID, err
				}(i)
			}
			wg.Wait()

			Convey("Then a single match should exist", func() {
				So(f.svc.GetStats()["totalMatches"], ShouldEqual, 1)
				for i, err := range errs {
					if err != nil {
						So(errors.Is(err, service.ErrIdempotencyInFlight), ShouldBeTrue)
						continue
					}
					So(ids[i], ShouldNotBeEmpty)
				}
			})
		})
	})

	Convey("Given a store that rejects duplicate ids", t, func() {
		f := newFixture(service.WithIDGenerator(func() string { return "fixed" }))
		_, err := f.svc.CreateMatch(ctx, "host", spec(4))
		So(err, ShouldBeNil)

		_, err = f.svc.CreateMatch(ctx, "host", spec(4))

		Convey("Then the collision should be a conflict", func() {
			So(errors.Is(err, apperror.ErrConflict), ShouldBeTrue)
		})
	})

	Convey("Given a cancelled context", t, func() {
		f := newFixture()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.svc.GetMatch(cctx, "anything")

		Convey("Then the store call should be transient", func() {
			So(errors.Is(err, apperror.ErrTransient), ShouldBeTrue)
		})
	})
}
