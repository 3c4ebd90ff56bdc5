package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Start(minimumAge int) error
	SetOCRText(text string)
	SubjectID() string
	VerificationToken() string
	SetVerificationToken(token string)
	Bearer(roles ...string) (string, error)
	Request(method, path string, headers map[string]string) error
	Submit(fields map[string]string, files map[string][]byte) error
	Photo(sharp bool) ([]byte, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetResponseField(field string) (any, error)
}

// RegisterSteps registers the verification flow step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &verificationSteps{tc: tc}

	// Setup
	ctx.Step(`^a running verification service with minimum age (\d+)$`, steps.runningService)
	ctx.Step(`^a member who completed their profile$`, steps.memberCompletedProfile)
	ctx.Step(`^the OCR engine reads "([^"]*)"$`, steps.ocrEngineReads)

	// Submissions
	ctx.Step(`^the member submits a (sharp|blurry) ID photo$`, steps.submitPhoto)
	ctx.Step(`^the member submits a sharp ID photo with token "([^"]*)"$`, steps.submitWithToken)
	ctx.Step(`^the member submits without a photo$`, steps.submitWithoutPhoto)
	ctx.Step(`^the member submits a sharp ID photo (\d+) times$`, steps.submitRepeatedly)
	ctx.Step(`^the last (\d+) submissions should be rate limited$`, steps.lastSubmissionsRateLimited)

	// Outcome
	ctx.Step(`^the verification status should be "([^"]*)"$`, steps.verificationStatusShouldBe)
	ctx.Step(`^the reported age should be at least (\d+)$`, steps.reportedAgeAtLeast)

	// Operations
	ctx.Step(`^an admin requests the verification metrics$`, steps.adminRequestsMetrics)
	ctx.Step(`^a service client requests the verification metrics$`, steps.serviceRequestsMetrics)
	ctx.Step(`^an admin resets the verification metrics$`, steps.adminResetsMetrics)
	ctx.Step(`^the metrics should show (\d+) successful verifications?$`, steps.metricsShowSuccessful)
}

type verificationSteps struct {
	tc       TestContext
	statuses []int
}

func (s *verificationSteps) runningService(_ context.Context, minimumAge int) error {
	s.statuses = nil
	return s.tc.Start(minimumAge)
}

func (s *verificationSteps) memberCompletedProfile(_ context.Context) error {
	bearer, err := s.tc.Bearer("service")
	if err != nil {
		return err
	}
	if err := s.tc.Request(http.MethodPost, "/v1/verification/"+s.tc.SubjectID()+"/token",
		map[string]string{"Authorization": bearer}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusCreated {
		return fmt.Errorf("issue token: status %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	token, err := s.tc.GetResponseField("verification_token")
	if err != nil {
		return err
	}
	s.tc.SetVerificationToken(fmt.Sprint(token))
	return nil
}

func (s *verificationSteps) ocrEngineReads(_ context.Context, text string) error {
	s.tc.SetOCRText(text)
	return nil
}

func (s *verificationSteps) submit(token string, sharp, withPhoto bool) error {
	files := map[string][]byte{}
	if withPhoto {
		photo, err := s.tc.Photo(sharp)
		if err != nil {
			return err
		}
		files["front"] = photo
	}
	if err := s.tc.Submit(map[string]string{"verification_token": token}, files); err != nil {
		return err
	}
	s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	return nil
}

func (s *verificationSteps) submitPhoto(_ context.Context, quality string) error {
	return s.submit(s.tc.VerificationToken(), quality == "sharp", true)
}

func (s *verificationSteps) submitWithToken(_ context.Context, token string) error {
	return s.submit(token, true, true)
}

func (s *verificationSteps) submitWithoutPhoto(_ context.Context) error {
	return s.submit(s.tc.VerificationToken(), true, false)
}

func (s *verificationSteps) submitRepeatedly(_ context.Context, n int) error {
	for range n {
		if err := s.submit(s.tc.VerificationToken(), true, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *verificationSteps) lastSubmissionsRateLimited(_ context.Context, n int) error {
	if len(s.statuses) < n {
		return fmt.Errorf("only %d submissions recorded", len(s.statuses))
	}
	cut := len(s.statuses) - n
	for i, status := range s.statuses {
		limited := status == http.StatusTooManyRequests
		if i < cut && limited {
			return fmt.Errorf("submission %d was rate limited too early", i+1)
		}
		if i >= cut && !limited {
			return fmt.Errorf("submission %d: expected 429, got %d", i+1, status)
		}
	}
	return nil
}

func (s *verificationSteps) verificationStatusShouldBe(_ context.Context, expected string) error {
	if err := s.tc.Request(http.MethodGet, "/v1/verification/"+s.tc.SubjectID(), nil); err != nil {
		return err
	}
	status, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if fmt.Sprint(status) != expected {
		return fmt.Errorf("expected verification status %s, got %v", expected, status)
	}
	return nil
}

func (s *verificationSteps) reportedAgeAtLeast(_ context.Context, minimum int) error {
	v, err := s.tc.GetResponseField("age")
	if err != nil {
		return err
	}
	age, ok := v.(float64)
	if !ok {
		return fmt.Errorf("age is %T, not a number", v)
	}
	if int(age) < minimum {
		return fmt.Errorf("expected age of at least %d, got %d", minimum, int(age))
	}
	return nil
}

func (s *verificationSteps) metricsRequest(method, path string, roles ...string) error {
	bearer, err := s.tc.Bearer(roles...)
	if err != nil {
		return err
	}
	return s.tc.Request(method, path, map[string]string{"Authorization": bearer})
}

func (s *verificationSteps) adminRequestsMetrics(_ context.Context) error {
	return s.metricsRequest(http.MethodGet, "/admin/verification/metrics", "admin")
}

func (s *verificationSteps) serviceRequestsMetrics(_ context.Context) error {
	return s.metricsRequest(http.MethodGet, "/admin/verification/metrics", "service")
}

func (s *verificationSteps) adminResetsMetrics(_ context.Context) error {
	return s.metricsRequest(http.MethodPost, "/admin/verification/metrics/reset", "admin")
}

func (s *verificationSteps) metricsShowSuccessful(_ context.Context, expected int) error {
	var body struct {
		Snapshot struct {
			Successful int `json:"successful"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &body); err != nil {
		return err
	}
	if body.Snapshot.Successful != expected {
		return fmt.Errorf("expected %d successful verifications, got %d", expected, body.Snapshot.Successful)
	}
	return nil
}
