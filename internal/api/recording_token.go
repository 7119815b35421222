package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"releasepulse/internal/artifacts"
)

var errInvalidRecordingToken = errors.New("invalid recording token")

type recordingTokenClaims struct {
	ProjectID string               `json:"projectId"`
	ReplayID  string               `json:"replayId"`
	Part      artifacts.ReplayPart `json:"part"`
	ExpiresAt int64                `json:"exp"`
}

func (h *Handler) hasRecordingTokenSecret() bool {
	return h.recordingTokenSecret != ""
}

func (h *Handler) signRecordingToken(projectID, replayID string, part artifacts.ReplayPart, expiresAt time.Time) (string, error) {
	if !h.hasRecordingTokenSecret() {
		return "", errInvalidRecordingToken
	}

	payload, err := json.Marshal(recordingTokenClaims{
		ProjectID: strings.TrimSpace(projectID),
		ReplayID:  strings.TrimSpace(replayID),
		Part:      part,
		ExpiresAt: expiresAt.UTC().Unix(),
	})
	if err != nil {
		return "", err
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	return encodedPayload + "." + h.signTokenPayload(encodedPayload), nil
}

func (h *Handler) verifyRecordingToken(rawToken string) (recordingTokenClaims, error) {
	if !h.hasRecordingTokenSecret() {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}

	encodedPayload, signature, found := strings.Cut(strings.TrimSpace(rawToken), ".")
	if !found {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}
	if !hmac.Equal([]byte(signature), []byte(h.signTokenPayload(encodedPayload))) {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}

	claims := recordingTokenClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}
	if claims.ProjectID == "" || claims.ReplayID == "" || claims.Part == "" {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}
	if claims.ExpiresAt < h.now().UTC().Unix() {
		return recordingTokenClaims{}, errInvalidRecordingToken
	}

	return claims, nil
}

func (h *Handler) signTokenPayload(encodedPayload string) string {
	mac := hmac.New(sha256.New, []byte(h.recordingTokenSecret))
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
