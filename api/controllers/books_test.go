package controllers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookitzzz-backend/internal/books"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

type stubBooks struct {
	listParams  books.ListParams
	created     books.CreateInput
	deletedID   uuid.UUID
	importBody  string
	importActor *uuid.UUID
	getErr      error
}

func (s *stubBooks) List(_ context.Context, params books.ListParams) (*books.ListResult, error) {
	s.listParams = params
	return &books.ListResult{
		Data: []books.BookDTO{{ID: uuid.New(), Title: "Dune"}},
		Meta: pagination.NewMeta(params.Page, 1),
	}, nil
}

func (s *stubBooks) Get(_ context.Context, id uuid.UUID) (*books.BookDetail, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &books.BookDetail{BookDTO: books.BookDTO{ID: id, Title: "Dune"}}, nil
}

func (s *stubBooks) Create(_ context.Context, _ uuid.UUID, input books.CreateInput) (*books.BookDTO, error) {
	s.created = input
	return &books.BookDTO{ID: uuid.New(), Title: input.Title}, nil
}

func (s *stubBooks) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, input books.UpdateInput) (*books.BookDTO, error) {
	return &books.BookDTO{ID: id, Title: *input.Title}, nil
}

func (s *stubBooks) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	s.deletedID = id
	return nil
}

func (s *stubBooks) Import(_ context.Context, actorID *uuid.UUID, src io.Reader) (*books.ImportResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	s.importBody = string(data)
	s.importActor = actorID
	return &books.ImportResult{Imported: 1, Errors: []books.ImportError{}}, nil
}

var testLibrary = config.LibraryConfig{DefaultPageSize: 20, MaxPageSize: 50}

func TestBooksListWritesDataAndMeta(t *testing.T) {
	svc := &stubBooks{}
	rec := serve(BooksList(svc, testLibrary, nil), newRequest(http.MethodGet, "/api/v1/books?q=%20dune%20&genre=scifi&page=2&limit=100", "", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Contains(t, string(env.Data), "Dune")
	assert.Contains(t, string(env.Meta), `"limit":50`)
	assert.Equal(t, "dune", svc.listParams.Query)
	assert.Equal(t, "scifi", svc.listParams.Genre)
	assert.Equal(t, 2, svc.listParams.Page.Page)
}

func TestBookGetValidatesID(t *testing.T) {
	rec := serve(BookGet(&stubBooks{}, nil), newRequest(http.MethodGet, "/api/v1/books/x", "", map[string]string{"bookId": "x"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec).Error.Code)
}

func TestBookGetNotFound(t *testing.T) {
	svc := &stubBooks{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "book not found")}
	id := uuid.NewString()
	rec := serve(BookGet(svc, nil), newRequest(http.MethodGet, "/api/v1/books/"+id, "", map[string]string{"bookId": id}))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Error.Code)
}

func TestBookCreate(t *testing.T) {
	svc := &stubBooks{}
	req := asActor(newRequest(http.MethodPost, "/api/v1/books", `{"title":"Dune","authors":["Frank Herbert"],"copiesTotal":3}`, nil), uuid.New(), enums.UserRoleLibrarian)
	rec := serve(BookCreate(svc, nil), req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Dune", svc.created.Title)
	require.NotNil(t, svc.created.CopiesTotal)
	assert.Equal(t, 3, *svc.created.CopiesTotal)
}

func TestBookCreateRejectsMissingTitle(t *testing.T) {
	req := asActor(newRequest(http.MethodPost, "/api/v1/books", `{"authors":["x"]}`, nil), uuid.New(), enums.UserRoleAdmin)
	rec := serve(BookCreate(&stubBooks{}, nil), req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "is required", env.Error.Details["title"])
}

func TestBookCreateRequiresActor(t *testing.T) {
	rec := serve(BookCreate(&stubBooks{}, nil), newRequest(http.MethodPost, "/api/v1/books", `{"title":"Dune"}`, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookDelete(t *testing.T) {
	svc := &stubBooks{}
	id := uuid.New()
	req := asActor(newRequest(http.MethodDelete, "/api/v1/books/"+id.String(), "", map[string]string{"bookId": id.String()}), uuid.New(), enums.UserRoleAdmin)
	rec := serve(BookDelete(svc, nil), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, svc.deletedID)
}

func TestBooksImportReadsMultipartFile(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "books.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("title\nDune\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	actor := uuid.New()
	req := newRequest(http.MethodPost, "/api/v1/books/import", "", nil)
	req.Body = io.NopCloser(&buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = asActor(req, actor, enums.UserRoleLibrarian)

	svc := &stubBooks{}
	rec := serve(BooksImport(svc, config.LibraryConfig{}, nil), req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "title\nDune\n", svc.importBody)
	require.NotNil(t, svc.importActor)
	assert.Equal(t, actor, *svc.importActor)
	assert.Contains(t, string(decode(t, rec).Data), `"imported":1`)
}

func TestBooksImportRequiresFileField(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := newRequest(http.MethodPost, "/api/v1/books/import", "", nil)
	req.Body = io.NopCloser(&buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = asActor(req, uuid.New(), enums.UserRoleLibrarian)

	rec := serve(BooksImport(&stubBooks{}, config.LibraryConfig{}, nil), req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBooksImportRejectsOversizedUpload(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "books.csv")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := newRequest(http.MethodPost, "/api/v1/books/import", "", nil)
	req.Body = io.NopCloser(&buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = asActor(req, uuid.New(), enums.UserRoleLibrarian)

	svc := &stubBooks{}
	rec := serve(BooksImport(svc, config.LibraryConfig{ImportMaxMB: 1}, nil), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.importActor)
}
