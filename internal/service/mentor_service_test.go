package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

type stubMentorRepo struct {
	profiles map[string]*models.MentorProfile
	reviews  []models.MentorReview
}

func newStubMentorRepo() *stubMentorRepo {
	return &stubMentorRepo{profiles: make(map[string]*models.MentorProfile)}
}

func (s *stubMentorRepo) GetProfile(ctx context.Context, mentorID string) (models.MentorProfile, error) {
	if profile, ok := s.profiles[mentorID]; ok {
		return *profile, nil
	}
	return models.MentorProfile{}, gorm.ErrRecordNotFound
}

func (s *stubMentorRepo) UpsertProfile(ctx context.Context, profile *models.MentorProfile) error {
	copied := *profile
	s.profiles[profile.MentorID] = &copied
	return nil
}

func (s *stubMentorRepo) UpdateAvatar(ctx context.Context, mentorID, url string) error {
	profile, ok := s.profiles[mentorID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	profile.AvatarURL = url
	return nil
}

func (s *stubMentorRepo) CreateReview(ctx context.Context, review *models.MentorReview) error {
	review.ID = uint(len(s.reviews) + 1)
	s.reviews = append(s.reviews, *review)
	return nil
}

func (s *stubMentorRepo) ListReviews(ctx context.Context, mentorID string, limit, offset int) ([]models.MentorReview, int64, error) {
	var out []models.MentorReview
	for _, review := range s.reviews {
		if review.MentorID == mentorID {
			out = append(out, review)
		}
	}
	return out, int64(len(out)), nil
}

func (s *stubMentorRepo) AverageRating(ctx context.Context, mentorID string) (float64, error) {
	var total, count float64
	for _, review := range s.reviews {
		if review.MentorID == mentorID {
			total += float64(review.Rating)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / count, nil
}

type storageStub struct {
	lastName string
	uploaded bytes.Buffer
}

func (s *storageStub) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	s.lastName = name
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + name, nil
}

func newMentorServiceForTest(t *testing.T, repo *stubMentorRepo, doubts *stubDoubtRepo, storage FileStorage, cache *redis.Client) MentorService {
	t.Helper()
	if doubts == nil {
		doubts = newStubDoubtRepo()
	}
	return NewMentorService(repo, doubts, storage, cache, time.Minute, 1,
		validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
}

func TestMentorServiceUpdateProfileCreatesAndSanitizes(t *testing.T) {
	repo := newStubMentorRepo()
	svc := newMentorServiceForTest(t, repo, nil, nil, nil)

	name := "<b>Dr. Mehta</b>"
	location := "Mumbai"
	profile, err := svc.UpdateProfile(context.Background(), "M1", dto.MentorProfileUpdateRequest{
		Name:     &name,
		Location: &location,
	})
	require.NoError(t, err)
	require.Equal(t, "Dr. Mehta", profile.Name)
	require.Equal(t, "Mumbai", profile.Location)

	speciality := "Orthopedics"
	updated, err := svc.UpdateProfile(context.Background(), "M1", dto.MentorProfileUpdateRequest{
		Speciality: &speciality,
	})
	require.NoError(t, err)
	require.Equal(t, "Dr. Mehta", updated.Name, "untouched fields must survive partial updates")
	require.Equal(t, "Orthopedics", updated.Speciality)
}

func TestMentorServiceUploadAvatarValidation(t *testing.T) {
	repo := newStubMentorRepo()
	repo.profiles["M1"] = &models.MentorProfile{MentorID: "M1", Name: "Dr. Mehta"}
	storage := &storageStub{}
	svc := newMentorServiceForTest(t, repo, nil, storage, nil)

	text := buildFileHeader(t, "notes.txt", []byte("plain text"))
	_, err := svc.UploadAvatar(context.Background(), "M1", text)
	require.ErrorIs(t, err, ErrAvatarNotImage)

	huge := buildFileHeader(t, "big.png", bytes.Repeat([]byte("a"), 2*1024*1024))
	_, err = svc.UploadAvatar(context.Background(), "M1", huge)
	require.ErrorIs(t, err, ErrAvatarTooLarge)

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	result, err := svc.UploadAvatar(context.Background(), "M1", buildFileHeader(t, "face.png", pngHeader))
	require.NoError(t, err)
	require.Contains(t, result.URL, "avatar-M1")
	require.Equal(t, "image/png", result.MimeType)
	require.Equal(t, result.URL, repo.profiles["M1"].AvatarURL)
}

func TestMentorServiceUploadAvatarUnknownMentor(t *testing.T) {
	storage := &storageStub{}
	svc := newMentorServiceForTest(t, newStubMentorRepo(), nil, storage, nil)

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	_, err := svc.UploadAvatar(context.Background(), "ghost", buildFileHeader(t, "face.png", pngHeader))
	require.ErrorIs(t, err, ErrMentorNotFound)
}

func TestMentorServiceReviews(t *testing.T) {
	repo := newStubMentorRepo()
	repo.profiles["M1"] = &models.MentorProfile{MentorID: "M1", Name: "Dr. Mehta"}
	svc := newMentorServiceForTest(t, repo, nil, nil, nil)

	_, err := svc.CreateReview(context.Background(), "ghost", "U1", dto.MentorReviewCreateRequest{Rating: 5})
	require.ErrorIs(t, err, ErrMentorNotFound)

	_, err = svc.CreateReview(context.Background(), "M1", "U1", dto.MentorReviewCreateRequest{
		AuthorName: "Asha",
		Rating:     5,
		Comment:    "<i>Very helpful</i> session",
	})
	require.NoError(t, err)
	_, err = svc.CreateReview(context.Background(), "M1", "U2", dto.MentorReviewCreateRequest{Rating: 4})
	require.NoError(t, err)

	list, err := svc.ListReviews(context.Background(), "M1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list.Reviews, 2)
	require.Equal(t, int64(2), list.Total)
	require.InDelta(t, 4.5, list.AverageRating, 0.001)
	require.Equal(t, "Very helpful session", list.Reviews[0].Comment)
}

func TestMentorServiceStatsAggregationAndCaching(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	doubts := newStubDoubtRepo()
	mentorID := "M1"
	doubts.threads["c1"] = &models.DoubtThread{ChatID: "c1", OwnerID: "U1", MentorID: &mentorID}
	doubts.threads["c2"] = &models.DoubtThread{ChatID: "c2", OwnerID: "U2", MentorID: &mentorID, Completed: true}
	doubts.requests["r1"] = &models.DoubtRequest{RequestID: "r1", ChatID: "c9", MentorID: "M1"}
	doubts.messages = []models.DoubtMessage{
		{ID: 1, ChatID: "c1", SenderRole: models.SenderRoleMentor},
		{ID: 2, ChatID: "c1", SenderRole: models.SenderRoleUser},
		{ID: 3, ChatID: "c2", SenderRole: models.SenderRoleMentor},
	}

	svc := newMentorServiceForTest(t, newStubMentorRepo(), doubts, nil, redisClient)

	stats, err := svc.Stats(context.Background(), "M1")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.LiveTickets)
	require.Equal(t, int64(1), stats.ClosedTickets)
	require.Equal(t, int64(1), stats.PendingTickets)
	require.Equal(t, int64(2), stats.MessagesSent)

	// A later change is masked by the cache until the TTL expires.
	doubts.requests["r2"] = &models.DoubtRequest{RequestID: "r2", ChatID: "c10", MentorID: "M1"}

	cached, err := svc.Stats(context.Background(), "M1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cached.PendingTickets)

	mini.FastForward(2 * time.Minute)

	fresh, err := svc.Stats(context.Background(), "M1")
	require.NoError(t, err)
	require.Equal(t, int64(2), fresh.PendingTickets)
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="` + filename + `"`},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content)) + 10*1024*1024)
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
