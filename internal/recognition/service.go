// Package recognition orchestrates the two face workflows: enrolling a
// student's reference embedding and verifying a live frame against it.
// Neither workflow writes attendance; that stays behind the ledger guard.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"faceattend/internal/common"
	"faceattend/internal/face"
	"faceattend/internal/imaging"
	"faceattend/internal/liveness"
	"faceattend/internal/person"
)

// PersonDirectory resolves external ids and updates profile photos.
type PersonDirectory interface {
	GetByExternalID(ctx context.Context, externalID string) (person.Person, error)
	SetProfilePhoto(ctx context.Context, internalID, url string) error
}

// EmbeddingStore persists one embedding per student.
type EmbeddingStore interface {
	Upsert(ctx context.Context, userID string, emb face.Embedding, imageURL string) error
	Get(ctx context.Context, userID string) (face.Enrollment, error)
	Delete(ctx context.Context, userID string) error
}

// PhotoUploader stores the accepted enrollment image and returns a public
// URL. It is optional; failures only degrade the enrollment message.
type PhotoUploader interface {
	UploadBytes(data []byte, filename string) (string, error)
}

// EnrollResult reports the outcome of an enrollment attempt.
type EnrollResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VerifyResult reports whether the frame shows the enrolled person, alive,
// right now. Confidence may exceed [0,1]; callers must not assume bounds.
type VerifyResult struct {
	Recognized    bool    `json:"recognized"`
	LivenessCheck bool    `json:"liveness_check"`
	Confidence    float64 `json:"confidence"`
	Message       string  `json:"message"`
}

// Status reports whether a student is enrolled and since when.
type Status struct {
	Enrolled   bool       `json:"enrolled"`
	EnrolledAt *time.Time `json:"enrolled_at,omitempty"`
}

// Service wires the liveness strategy, the encoder and the stores.
type Service struct {
	people     PersonDirectory
	embeddings EmbeddingStore
	liveness   liveness.Strategy
	encoder    face.Encoder
	photos     PhotoUploader // nil when image storage is not configured
	tolerance  float64
}

// NewService creates the workflow service. photos may be nil.
func NewService(people PersonDirectory, embeddings EmbeddingStore, strategy liveness.Strategy, encoder face.Encoder, photos PhotoUploader, tolerance float64) *Service {
	if tolerance <= 0 {
		tolerance = face.DefaultTolerance
	}
	return &Service{
		people:     people,
		embeddings: embeddings,
		liveness:   strategy,
		encoder:    encoder,
		photos:     photos,
		tolerance:  tolerance,
	}
}

// Enroll registers the person's reference embedding. Steps short-circuit on
// the first failure: liveness, encode, role gate, embedding upsert. The
// profile photo write is best-effort and never rolls back the embedding.
func (s *Service) Enroll(ctx context.Context, externalID string, imageData []byte) (EnrollResult, error) {
	frame, err := imaging.Decode(imageData)
	if err != nil {
		return EnrollResult{}, err
	}

	if lres := s.liveness.Evaluate(ctx, frame); !lres.Passed {
		return EnrollResult{Message: lres.Message}, fmt.Errorf("%w: %s", common.ErrLivenessFailed, lres.Message)
	}

	emb, err := s.encoder.Encode(ctx, imageData)
	if err != nil {
		return EnrollResult{}, err
	}

	p, err := s.people.GetByExternalID(ctx, externalID)
	if err != nil {
		return EnrollResult{}, err
	}
	if p.Role != person.RoleStudent {
		return EnrollResult{}, fmt.Errorf("%w: face enrollment is only available for students", common.ErrUnauthorized)
	}

	photoURL := s.uploadPhoto(p, imageData)

	if err := s.embeddings.Upsert(ctx, p.ID, emb, photoURL); err != nil {
		return EnrollResult{}, err
	}

	msg := "Face enrolled successfully"
	if photoURL == "" && s.photos != nil {
		msg = "Face enrolled successfully (profile photo could not be saved)"
	} else if photoURL != "" {
		if err := s.people.SetProfilePhoto(ctx, p.ID, photoURL); err != nil {
			log.Printf("profile photo update failed for %s: %v", p.ID, err)
			msg = "Face enrolled successfully (profile photo could not be saved)"
		}
	}
	enrollmentsTotal.Inc()
	return EnrollResult{Success: true, Message: msg}, nil
}

// Verify answers whether the frame matches the person's stored embedding.
// Liveness failure short-circuits before any matching; encode failures after
// a passed liveness check keep liveness_check=true so the caller can guide
// the retake.
func (s *Service) Verify(ctx context.Context, externalID string, imageData []byte) (VerifyResult, error) {
	frame, err := imaging.Decode(imageData)
	if err != nil {
		return VerifyResult{}, err
	}

	lres := s.liveness.Evaluate(ctx, frame)
	if !lres.Passed {
		verificationsTotal.WithLabelValues("liveness_failed").Inc()
		return VerifyResult{
			Recognized:    false,
			LivenessCheck: false,
			Confidence:    lres.Confidence,
			Message:       lres.Message,
		}, nil
	}

	emb, err := s.encoder.Encode(ctx, imageData)
	if err != nil {
		if errors.Is(err, common.ErrNoFaceDetected) || errors.Is(err, common.ErrMultipleFacesDetected) {
			verificationsTotal.WithLabelValues("no_usable_face").Inc()
			return VerifyResult{LivenessCheck: true, Message: userMessage(err)}, nil
		}
		return VerifyResult{}, err
	}

	p, err := s.people.GetByExternalID(ctx, externalID)
	if err != nil {
		return VerifyResult{}, err
	}

	stored, err := s.embeddings.Get(ctx, p.ID)
	if err != nil {
		if errors.Is(err, common.ErrNotEnrolled) {
			verificationsTotal.WithLabelValues("not_enrolled").Inc()
			return VerifyResult{LivenessCheck: true, Message: "No enrolled face found. Please enroll your face first."}, nil
		}
		return VerifyResult{}, err
	}

	match, err := face.Match(stored.Embedding, emb, s.tolerance)
	if err != nil {
		return VerifyResult{}, err
	}
	if match.Matched {
		verificationsTotal.WithLabelValues("recognized").Inc()
		return VerifyResult{
			Recognized:    true,
			LivenessCheck: true,
			Confidence:    match.Confidence,
			Message:       "Face recognized successfully",
		}, nil
	}
	verificationsTotal.WithLabelValues("rejected").Inc()
	return VerifyResult{
		Recognized:    false,
		LivenessCheck: true,
		Confidence:    match.Confidence,
		Message:       "Face not recognized",
	}, nil
}

// Revoke deletes the student's biometric record and clears the profile photo
// that was derived from the enrollment image.
func (s *Service) Revoke(ctx context.Context, externalID string) error {
	p, err := s.people.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if p.Role != person.RoleStudent {
		return fmt.Errorf("%w: face enrollment is only available for students", common.ErrUnauthorized)
	}
	if err := s.embeddings.Delete(ctx, p.ID); err != nil {
		return err
	}
	if err := s.people.SetProfilePhoto(ctx, p.ID, ""); err != nil {
		log.Printf("profile photo clear failed for %s: %v", p.ID, err)
	}
	return nil
}

// EnrollmentStatus reports whether the person has a stored embedding.
func (s *Service) EnrollmentStatus(ctx context.Context, externalID string) (Status, error) {
	p, err := s.people.GetByExternalID(ctx, externalID)
	if err != nil {
		return Status{}, err
	}
	enr, err := s.embeddings.Get(ctx, p.ID)
	if errors.Is(err, common.ErrNotEnrolled) {
		return Status{Enrolled: false}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Enrolled: true, EnrolledAt: &enr.CreatedAt}, nil
}

// uploadPhoto best-effort stores the accepted image; an empty URL means the
// upload was skipped or failed.
func (s *Service) uploadPhoto(p person.Person, imageData []byte) string {
	if s.photos == nil {
		return ""
	}
	url, err := s.photos.UploadBytes(imageData, p.ExternalID+".jpg")
	if err != nil {
		log.Printf("warning: could not save enrollment image for %s: %v", p.ExternalID, err)
		return ""
	}
	return url
}

// userMessage strips wrap prefixes down to the guidance text users see.
func userMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrNoFaceDetected):
		return "No face detected in the image."
	case errors.Is(err, common.ErrMultipleFacesDetected):
		return "Multiple faces detected. Please ensure only one face is visible."
	}
	return err.Error()
}
