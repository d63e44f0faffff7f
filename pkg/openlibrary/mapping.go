package openlibrary

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"shelfscan/pkg/domain"
)

// All placeholder defaulting lives here so that the pipeline and the store
// never re-apply divergent fallbacks.

func (c *Client) mapSearchDoc(doc searchDoc, fallbackISBN string) domain.BookRecord {
	rec := domain.BookRecord{
		Title:     doc.Title,
		Authors:   strings.Join(doc.AuthorNames, ", "),
		Publisher: strings.Join(doc.Publishers, ", "),
		Subjects:  doc.Subjects,
	}
	if rec.Title == "" {
		rec.Title = domain.DefaultTitle
	}
	if rec.Authors == "" {
		rec.Authors = domain.DefaultAuthors
	}
	if len(doc.ISBN) > 0 {
		rec.ISBN = doc.ISBN[0]
	} else {
		rec.ISBN = fallbackISBN
	}
	if doc.FirstPublishYear > 0 {
		rec.Published = strconv.Itoa(doc.FirstPublishYear)
	} else if len(doc.PublishDates) > 0 {
		rec.Published = doc.PublishDates[0]
	}
	if doc.CoverID > 0 {
		rec.ThumbnailURL = c.coverURL(doc.CoverID)
	}
	rec.ThumbnailURL = secureThumbnailURL(rec.ThumbnailURL)
	return rec
}

func (c *Client) mapSubjectWork(work subjectWork) domain.BookRecord {
	names := make([]string, 0, len(work.Authors))
	for _, author := range work.Authors {
		if author.Name != "" {
			names = append(names, author.Name)
		}
	}
	rec := domain.BookRecord{
		Title:    work.Title,
		Authors:  strings.Join(names, ", "),
		Subjects: work.Subjects,
	}
	if rec.Title == "" {
		rec.Title = domain.DefaultTitle
	}
	if rec.Authors == "" {
		rec.Authors = domain.DefaultAuthors
	}
	if work.FirstPublishYear > 0 {
		rec.Published = strconv.Itoa(work.FirstPublishYear)
	}
	if work.CoverID > 0 {
		rec.ThumbnailURL = c.coverURL(work.CoverID)
	}
	rec.ThumbnailURL = secureThumbnailURL(rec.ThumbnailURL)
	return rec
}

// coverURL builds the medium cover image URL for a numeric cover identifier.
// List views downgrade to the small variant with SmallCoverURL.
func (c *Client) coverURL(coverID int) string {
	return fmt.Sprintf("%s/b/id/%d-M.jpg", c.coversURL, coverID)
}

// SmallCoverURL rewrites a medium/large cover URL to the small variant.
func SmallCoverURL(coverURL string) string {
	if strings.HasSuffix(coverURL, "-M.jpg") {
		return strings.TrimSuffix(coverURL, "-M.jpg") + "-S.jpg"
	}
	if strings.HasSuffix(coverURL, "-L.jpg") {
		return strings.TrimSuffix(coverURL, "-L.jpg") + "-S.jpg"
	}
	return coverURL
}

// secureThumbnailURL upgrades an http:// thumbnail to https:// and validates
// the result. An unparsable URL yields an empty thumbnail; no error surfaces.
func secureThumbnailURL(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") {
		raw = "https://" + strings.TrimPrefix(raw, "http://")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.String()
}
