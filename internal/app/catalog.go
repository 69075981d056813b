package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"biblio/internal/util"
	"biblio/pkg/domain"
	"biblio/pkg/store"
)

// BookInput carries the editable catalog fields of a book.
type BookInput struct {
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	ISBN            string `json:"isbn"`
	Authors         string `json:"authors"`
	Category        string `json:"category"`
	Summary         string `json:"summary"`
	Language        string `json:"language"`
	Pages           int    `json:"pages"`
	PublicationYear int    `json:"publicationYear"`
	TotalCopies     int    `json:"totalCopies"`
}

// BookPage is one page of catalog results.
type BookPage struct {
	Items []domain.Book `json:"items"`
	Total int64         `json:"total"`
}

func (in BookInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title required")
	}
	if strings.TrimSpace(in.ISBN) == "" {
		return errors.New("isbn required")
	}
	if strings.TrimSpace(in.Authors) == "" {
		return errors.New("authors required")
	}
	if in.TotalCopies < 1 {
		return errors.New("totalCopies must be at least 1")
	}
	return nil
}

// CreateBook adds a title to the catalog with all copies on the shelf.
func (a *App) CreateBook(ctx context.Context, actor domain.User, in BookInput) (domain.Book, error) {
	if err := in.validate(); err != nil {
		return domain.Book{}, err
	}
	now := a.now()
	book := domain.Book{
		ID:              util.NewID(),
		Title:           strings.TrimSpace(in.Title),
		Subtitle:        strings.TrimSpace(in.Subtitle),
		ISBN:            strings.TrimSpace(in.ISBN),
		Authors:         strings.TrimSpace(in.Authors),
		Category:        strings.TrimSpace(in.Category),
		Summary:         in.Summary,
		Language:        strings.TrimSpace(in.Language),
		Pages:           in.Pages,
		PublicationYear: in.PublicationYear,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		IsActive:        true,
		AddedBy:         actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBook edits catalog metadata. Changing the copy count keeps the
// number of copies currently out stable: available adjusts by the same
// delta, and shrinking below the checked-out count is refused.
func (a *App) UpdateBook(ctx context.Context, actor domain.User, id string, in BookInput) (domain.Book, error) {
	if err := in.validate(); err != nil {
		return domain.Book{}, err
	}
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	checkedOut := book.TotalCopies - book.AvailableCopies
	if in.TotalCopies < checkedOut {
		return domain.Book{}, domain.ErrBookHasActiveLoans
	}
	book.Title = strings.TrimSpace(in.Title)
	book.Subtitle = strings.TrimSpace(in.Subtitle)
	book.ISBN = strings.TrimSpace(in.ISBN)
	book.Authors = strings.TrimSpace(in.Authors)
	book.Category = strings.TrimSpace(in.Category)
	book.Summary = in.Summary
	book.Language = strings.TrimSpace(in.Language)
	book.Pages = in.Pages
	book.PublicationYear = in.PublicationYear
	book.TotalCopies = in.TotalCopies
	book.AvailableCopies = in.TotalCopies - checkedOut
	book.UpdatedAt = a.now()
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// GetBook retrieves a catalog entry.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return a.store.GetBook(ctx, id)
}

// ListBooks returns a catalog page.
func (a *App) ListBooks(ctx context.Context, filter store.BookFilter) (BookPage, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	items, total, err := a.store.ListBooks(ctx, filter)
	if err != nil {
		return BookPage{}, err
	}
	return BookPage{Items: items, Total: total}, nil
}

// SetBookActive shelves or unshelves a title. Inactive books cannot be
// borrowed but existing loans run their course.
func (a *App) SetBookActive(ctx context.Context, actor domain.User, id string, active bool) error {
	return a.store.SetBookActive(ctx, id, active)
}

// DeleteBook removes a title, refusing while copies are still out.
func (a *App) DeleteBook(ctx context.Context, actor domain.User, id string) error {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrBookNotFound
	}
	if err := a.store.DeleteBook(ctx, id); err != nil {
		return err
	}
	if a.covers != nil && book.CoverKey != "" {
		if err := a.covers.Remove(ctx, book.CoverKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete cover failed", "book_id", id, "err", err)
		}
	}
	return nil
}

// UploadCover stores a cover image and links it to the book. An old
// cover is removed afterwards, best effort.
func (a *App) UploadCover(ctx context.Context, actor domain.User, id string, r io.Reader, size int64, contentType string) error {
	if a.covers == nil {
		return errors.New("cover storage not configured")
	}
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrBookNotFound
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := path.Join("covers", id, util.NewID())
	if err := a.covers.Upload(ctx, key, r, size, contentType); err != nil {
		return fmt.Errorf("store cover: %w", err)
	}
	if err := a.store.SetBookCover(ctx, id, key); err != nil {
		_ = a.covers.Remove(ctx, key)
		return err
	}
	if book.CoverKey != "" {
		if err := a.covers.Remove(ctx, book.CoverKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete old cover failed", "book_id", id, "err", err)
		}
	}
	return nil
}

// CoverURL returns a pre-signed download URL for the cover image.
func (a *App) CoverURL(ctx context.Context, id string) (string, error) {
	if a.covers == nil {
		return "", errors.New("cover storage not configured")
	}
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrBookNotFound
	}
	if strings.TrimSpace(book.CoverKey) == "" {
		return "", domain.ErrBookNotFound
	}
	return a.covers.SignedURL(ctx, book.CoverKey, a.presignExpiry)
}
