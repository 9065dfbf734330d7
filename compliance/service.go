package compliance

import (
	"fmt"
	"net/http"

	resp "github.com/coachpay/engine/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Logger *zap.Logger
}

// Service exposes the payment rule lookup to UI clients
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the compliance API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// RuleResponse is the body returned for a rule lookup
type RuleResponse struct {
	Region   Region      `json:"region"`
	Platform Platform    `json:"platform"`
	Rule     PaymentRule `json:"rule"`
}

func (s *Service) getRule(w http.ResponseWriter, r *http.Request) {
	platform, err := ParsePlatform(r.URL.Query().Get("platform"))
	if err != nil {
		s.Logger.Info("Rejected rule lookup with unknown platform",
			zap.String("Platform", r.URL.Query().Get("platform")),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid platform"))
		return
	}
	region, rule := RuleForTimezone(r.URL.Query().Get("timezone"), platform)
	resp.WriteResponse(w, r, RuleResponse{
		Region:   region,
		Platform: platform,
		Rule:     rule,
	})
}

// Router will return the routes under compliance API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/rule", s.getRule)

	return r
}
