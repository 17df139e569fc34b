package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/matchpoint/internal/adapters/media"
	service "github.com/okian/matchpoint/internal/app"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/lifecycle"
	"github.com/okian/matchpoint/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeUploader struct {
	err   error
	calls int
}

func (u *fakeUploader) PresignImage(_ context.Context, matchID, fileName, _ string) (media.Upload, error) {
	u.calls++
	if u.err != nil {
		return media.Upload{}, u.err
	}
	return media.Upload{
		URL:       "https://bucket.example/matches/" + matchID + "/" + fileName,
		Method:    "PUT",
		Key:       "matches/" + matchID + "/" + fileName,
		ExpiresAt: testNow.Add(5 * time.Minute),
	}, nil
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scheduled match with three participants", t, func() {
		f := newFixture()
		m := f.create(5)
		for _, u := range []string{"u1", "u2", "u3"} {
			_, err := f.svc.Join(ctx, m.ID, u)
			So(err, ShouldBeNil)
		}

		Convey("When the host lowers capacity below occupancy", func() {
			_, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.UpdateCapacity{Capacity: 2})

			Convey("Then it should be a validation error and capacity unchanged", func() {
				So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
				So(errors.Is(err, service.ErrCapacityBelowOccupancy), ShouldBeTrue)

				got, _ := f.svc.GetMatch(ctx, m.ID)
				So(got.Capacity, ShouldEqual, 5)
			})
		})

		Convey("When the host sets capacity exactly to occupancy", func() {
			updated, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.UpdateCapacity{Capacity: 3})

			Convey("Then the match should be full", func() {
				So(err, ShouldBeNil)
				So(updated.Capacity, ShouldEqual, 3)
				So(updated.IsFull(), ShouldBeTrue)
				So(updated.Status, ShouldEqual, model.StatusScheduled)
			})
		})

		Convey("When the host asks for more seats than the policy allows", func() {
			_, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.UpdateCapacity{Capacity: 23})

			Convey("Then it should be a validation error", func() {
				So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
				So(errors.Is(err, model.ErrCapacityOutOfBounds), ShouldBeTrue)
			})
		})

		Convey("When someone other than the host acts", func() {
			_, err := f.svc.Apply(ctx, m.ID, "u1", lifecycle.Cancel{})

			Convey("Then it should be an authorization error", func() {
				So(errors.Is(err, apperror.ErrAuthorization), ShouldBeTrue)
				So(errors.Is(err, service.ErrNotHost), ShouldBeTrue)

				got, _ := f.svc.GetMatch(ctx, m.ID)
				So(got.Status, ShouldEqual, model.StatusScheduled)
			})
		})

		Convey("When the host reschedules into the future", func() {
			at := testNow.Add(7 * 24 * time.Hour)
			updated, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.Reschedule{At: at})

			Convey("Then the datetime should move and participants stay", func() {
				So(err, ShouldBeNil)
				So(updated.Datetime.Equal(at), ShouldBeTrue)
				So(participants(updated), ShouldResemble, []string{"u1", "u2", "u3"})
			})
		})

		Convey("When the host reschedules into the past", func() {
			_, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.Reschedule{At: testNow.Add(-time.Hour)})

			Convey("Then it should be a validation error", func() {
				So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
				So(errors.Is(err, service.ErrPastDatetime), ShouldBeTrue)
			})
		})

		Convey("When the host closes the match", func() {
			updated, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.Close{})

			Convey("Then it should be completed and terminal", func() {
				So(err, ShouldBeNil)
				So(updated.Status, ShouldEqual, model.StatusCompleted)
				So(updated.Status.Terminal(), ShouldBeTrue)

				_, err := f.svc.Apply(ctx, m.ID, "host", lifecycle.Cancel{})
				So(errors.Is(err, apperror.ErrInvalidState), ShouldBeTrue)
			})
		})

		Convey("When the action is missing", func() {
			_, err := f.svc.Apply(ctx, m.ID, "host", nil)

			Convey("Then it should be a validation error", func() {
				So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the match is unknown", func() {
			_, err := f.svc.Apply(ctx, "missing", "host", lifecycle.Cancel{})

			Convey("Then it should be not found", func() {
				So(errors.Is(err, apperror.ErrNotFound), ShouldBeTrue)
			})
		})
	})

	Convey("Given joins racing a capacity cut", t, func() {
		f := newFixture()
		m := f.create(4)
		_, err := f.svc.Join(ctx, m.ID, "u1")
		So(err, ShouldBeNil)

		done := make(chan error, 3)
		for _, u := range []string{"u2", "u3", "u4"} {
			go func(u string) {
				_, err := f.svc.Join(ctx, m.ID, u)
				done <- err
			}(u)
		}
		_, cutErr := f.svc.Apply(ctx, m.ID, "host", lifecycle.UpdateCapacity{Capacity: 2})
		for i := 0; i < 3; i++ {
			<-done
		}

		Convey("Then the invariant should hold whatever the interleaving", func() {
			got, err := f.svc.GetMatch(ctx, m.ID)
			So(err, ShouldBeNil)
			So(got.CheckInvariants(), ShouldBeNil)
			if cutErr == nil {
				So(got.Capacity, ShouldEqual, 2)
				So(len(got.Participants), ShouldBeLessThanOrEqualTo, 2)
			} else {
				So(errors.Is(cutErr, apperror.ErrValidation), ShouldBeTrue)
				So(got.Capacity, ShouldEqual, 4)
			}
		})
	})
}

func TestImagery(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with an uploader", t, func() {
		up := &fakeUploader{}
		f := newFixture(service.WithUploader(up))
		m := f.create(4)

		Convey("When the host presigns an image", func() {
			upload, updated, err := f.svc.PresignImagery(ctx, m.ID, "host", "pitch.jpg", "image/jpeg")

			Convey("Then the key should be recorded on the match", func() {
				So(err, ShouldBeNil)
				So(upload.Method, ShouldEqual, "PUT")
				So(updated.Imagery, ShouldResemble, []string{upload.Key})
			})
		})

		Convey("When another user presigns", func() {
			_, _, err := f.svc.PresignImagery(ctx, m.ID, "u1", "pitch.jpg", "image/jpeg")

			Convey("Then it should be forbidden without calling the uploader", func() {
				So(errors.Is(err, service.ErrNotHost), ShouldBeTrue)
				So(up.calls, ShouldEqual, 0)
			})
		})

		Convey("When the uploader rejects the content type", func() {
			up.err = media.ErrUnsupportedType
			_, _, err := f.svc.PresignImagery(ctx, m.ID, "host", "notes.txt", "text/plain")

			Convey("Then it should be a validation error", func() {
				So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
				So(errors.Is(err, media.ErrUnsupportedType), ShouldBeTrue)
			})
		})

		Convey("When the same key is attached twice", func() {
			_, err := f.svc.SetImagery(ctx, m.ID, "host", "matches/x/a.jpg")
			So(err, ShouldBeNil)
			updated, err := f.svc.SetImagery(ctx, m.ID, "host", "matches/x/a.jpg")

			Convey("Then it should be stored once", func() {
				So(err, ShouldBeNil)
				So(updated.Imagery, ShouldResemble, []string{"matches/x/a.jpg"})
			})
		})

		Convey("When ten images are already attached", func() {
			for i := 0; i < 10; i++ {
				_, err := f.svc.SetImagery(ctx, m.ID, "host", "k"+string(rune('a'+i)))
				So(err, ShouldBeNil)
			}
			_, err := f.svc.SetImagery(ctx, m.ID, "host", "one-more")

			Convey("Then another should be rejected", func() {
				So(errors.Is(err, service.ErrTooManyImages), ShouldBeTrue)
				So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service without an uploader", t, func() {
		f := newFixture()
		m := f.create(4)

		_, _, err := f.svc.PresignImagery(ctx, m.ID, "host", "pitch.jpg", "image/jpeg")

		Convey("Then presigning should be rejected", func() {
			So(errors.Is(err, service.ErrMediaDisabled), ShouldBeTrue)
		})
	})
}
