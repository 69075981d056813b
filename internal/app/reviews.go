package app

import (
	"context"
	"strings"

	"biblio/internal/util"
	"biblio/pkg/domain"
)

// ReviewInput carries the fields of a posted review.
type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ReviewSummary is one book's reviews with the aggregate rating.
type ReviewSummary struct {
	Items         []domain.Review `json:"items"`
	Count         int             `json:"count"`
	AverageRating float64         `json:"averageRating"`
}

// AddReview records the caller's rating of a title on the 1..5 scale.
// A reader reviews each book at most once: posting again updates the
// existing review rather than adding a second one.
func (a *App) AddReview(ctx context.Context, user domain.User, bookID string, in ReviewInput) (domain.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return domain.Review{}, domain.ErrInvalidRating
	}
	if _, ok, err := a.store.GetBook(ctx, bookID); err != nil {
		return domain.Review{}, err
	} else if !ok {
		return domain.Review{}, domain.ErrBookNotFound
	}
	rev := domain.Review{
		ID:           util.NewID(),
		BookID:       bookID,
		ReviewerID:   user.ID,
		ReviewerName: user.Name,
		Rating:       in.Rating,
		Comment:      strings.TrimSpace(in.Comment),
		CreatedAt:    a.now(),
	}
	return a.store.SaveReview(ctx, rev)
}

// BookReviews returns a title's reviews, newest first, with the
// average rating across them.
func (a *App) BookReviews(ctx context.Context, bookID string) (ReviewSummary, error) {
	if _, ok, err := a.store.GetBook(ctx, bookID); err != nil {
		return ReviewSummary{}, err
	} else if !ok {
		return ReviewSummary{}, domain.ErrBookNotFound
	}
	reviews, err := a.store.ListReviewsByBook(ctx, bookID)
	if err != nil {
		return ReviewSummary{}, err
	}
	summary := ReviewSummary{Items: reviews, Count: len(reviews)}
	if len(reviews) > 0 {
		total := 0
		for _, r := range reviews {
			total += r.Rating
		}
		summary.AverageRating = float64(total) / float64(len(reviews))
	}
	return summary, nil
}
