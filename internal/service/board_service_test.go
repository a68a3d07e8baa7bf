package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

func strPointer(s string) *string { return &s }

func TestBoardServiceSnapshotPartitionsForUser(t *testing.T) {
	repo := newStubDoubtRepo()
	now := time.Now().UTC()

	repo.requests["r1"] = &models.DoubtRequest{
		RequestID: "r1", ChatID: "c1", Subject: "Anatomy",
		RequesterID: "U1", MentorID: "M1", CreatedAt: now,
	}
	repo.threads["c1"] = &models.DoubtThread{ChatID: "c1", OwnerID: "U1", SubjectLabel: "@Anatomy/pending"}
	repo.threads["c2"] = &models.DoubtThread{
		ChatID: "c2", OwnerID: "U1", SubjectLabel: "@Radiology/live",
		MentorID: strPointer("M1"), MentorName: strPointer("Dr. Mehta"),
	}
	repo.threads["c3"] = &models.DoubtThread{
		ChatID: "c3", OwnerID: "U1", SubjectLabel: "@Chemistry/done",
		MentorID: strPointer("M1"), Completed: true,
	}
	repo.threads["c4"] = &models.DoubtThread{
		ChatID: "c4", OwnerID: "U2", SubjectLabel: "@Anatomy/other-user",
		MentorID: strPointer("M1"),
	}

	svc := NewBoardService(repo, nil, "", nil, zerolog.Nop())

	board, err := svc.Snapshot(context.Background(), "U1", BoardViewerUser)
	require.NoError(t, err)

	require.Len(t, board.Live, 1, "unaccepted thread must not appear as live")
	require.Equal(t, "c2", board.Live[0].ChatID)
	require.Len(t, board.Requested, 1)
	require.Equal(t, "r1", board.Requested[0].RequestID)
	require.Len(t, board.Closed, 1)
	require.Equal(t, "c3", board.Closed[0].ChatID)
}

func TestBoardServiceSnapshotPartitionsForMentor(t *testing.T) {
	repo := newStubDoubtRepo()
	now := time.Now().UTC()

	repo.requests["r1"] = &models.DoubtRequest{
		RequestID: "r1", ChatID: "c1", Subject: "Anatomy",
		RequesterID: "U1", MentorID: "M1", CreatedAt: now,
	}
	repo.requests["r2"] = &models.DoubtRequest{
		RequestID: "r2", ChatID: "c5", Subject: "Physiology",
		RequesterID: "U2", MentorID: "M2", CreatedAt: now,
	}
	repo.threads["c2"] = &models.DoubtThread{ChatID: "c2", OwnerID: "U1", SubjectLabel: "@Radiology/live", MentorID: strPointer("M1")}
	repo.threads["c3"] = &models.DoubtThread{ChatID: "c3", OwnerID: "U2", SubjectLabel: "@Chemistry/done", MentorID: strPointer("M1"), Completed: true}

	svc := NewBoardService(repo, nil, "", nil, zerolog.Nop())

	board, err := svc.Snapshot(context.Background(), "M1", BoardViewerMentor)
	require.NoError(t, err)

	require.Len(t, board.Live, 1)
	require.Equal(t, "c2", board.Live[0].ChatID)
	require.Len(t, board.Requested, 1, "requested tab is scoped to the viewing mentor")
	require.Equal(t, "r1", board.Requested[0].RequestID)
	require.Len(t, board.Closed, 1)
	require.Equal(t, "c3", board.Closed[0].ChatID)
}

func TestBoardServiceSnapshotRejectsUnknownRole(t *testing.T) {
	svc := NewBoardService(newStubDoubtRepo(), nil, "", nil, zerolog.Nop())
	_, err := svc.Snapshot(context.Background(), "U1", "auditor")
	require.ErrorIs(t, err, ErrInvalidViewerRole)
}

func TestBoardServicePublishDeliversToBothParties(t *testing.T) {
	svc := NewBoardService(newStubDoubtRepo(), nil, "", nil, zerolog.Nop())

	ownerEvents, ownerCleanup := svc.Subscribe("U1")
	defer ownerCleanup()
	mentorEvents, mentorCleanup := svc.Subscribe("M1")
	otherEvents, otherCleanup := svc.Subscribe("U9")
	defer otherCleanup()

	event := dto.BoardEvent{
		Kind:    dto.BoardEventAccepted,
		ChatID:  "c1",
		OwnerID: "U1",
		Mentor:  "M1",
		At:      time.Now().UTC(),
	}
	svc.PublishEvent(context.Background(), event)

	select {
	case got := <-ownerEvents:
		require.Equal(t, event.ChatID, got.ChatID)
	default:
		t.Fatal("owner did not receive board event")
	}

	select {
	case got := <-mentorEvents:
		require.Equal(t, dto.BoardEventAccepted, got.Kind)
	default:
		t.Fatal("mentor did not receive board event")
	}

	select {
	case <-otherEvents:
		t.Fatal("uninvolved viewer must not receive the event")
	default:
	}

	mentorCleanup()
	_, open := <-mentorEvents
	require.False(t, open, "cleanup must close the subscriber channel")
}
