package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	auditdomain "github.com/smallbiznis/mailforge/internal/audit/domain"
	auditservice "github.com/smallbiznis/mailforge/internal/audit/service"
	campaigndomain "github.com/smallbiznis/mailforge/internal/campaign/domain"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
)

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

type createCampaignRequest struct {
	Name     string           `json:"name"`
	Tone     string           `json:"tone"`
	Products []productRequest `json:"products"`
}

// @Summary      Create Campaign
// @Description  Create a new email campaign
// @Tags         campaigns
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body createCampaignRequest true "Create Campaign Request"
// @Success      200  {object}  campaigndomain.Campaign
// @Router       /campaigns [post]
func (s *Server) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}
	if len(req.Products) == 0 {
		AbortWithError(c, newValidationError("products", "required", "at least one product is required"))
		return
	}
	for _, product := range req.Products {
		if strings.TrimSpace(product.Name) == "" {
			AbortWithError(c, newValidationError("products.name", "required", "every product needs a name"))
			return
		}
	}

	products, err := json.Marshal(req.Products)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	campaign := &campaigndomain.Campaign{
		ID:        s.genID.Generate(),
		AccountID: accountID(c),
		Name:      name,
		Tone:      strings.TrimSpace(req.Tone),
		Products:  datatypes.JSON(products),
	}
	if err := s.campaigns.Create(c.Request.Context(), campaign); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": campaign})
}

// @Summary      Get Campaign
// @Description  Fetch one campaign with its generated artifacts
// @Tags         campaigns
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id path string true "Campaign ID"
// @Success      200  {object}  campaigndomain.Campaign
// @Router       /campaigns/{id} [get]
func (s *Server) GetCampaign(c *gin.Context) {
	campaignID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "format", "campaign id must be numeric"))
		return
	}

	campaign, err := s.campaigns.Get(c.Request.Context(), accountID(c), campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": campaign})
}

type generateRequest struct {
	IncludeImages bool   `json:"include_images"`
	TextProvider  string `json:"text_provider"`
	TextModel     string `json:"text_model"`
	ImageProvider string `json:"image_provider"`
	ImageModel    string `json:"image_model"`
}

// @Summary      Generate Campaign Content
// @Description  Run the generation pipeline for a campaign
// @Tags         campaigns
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id path string true "Campaign ID"
// @Param        request body generateRequest false "Generate Request"
// @Success      200  {object}  generationdomain.RunReport
// @Router       /campaigns/{id}/generate [post]
func (s *Server) GenerateCampaign(c *gin.Context) {
	campaignID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "format", "campaign id must be numeric"))
		return
	}

	var req generateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	campaign, err := s.campaigns.Get(c.Request.Context(), accountID(c), campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var products []generationdomain.Product
	if len(campaign.Products) > 0 {
		if err := json.Unmarshal(campaign.Products, &products); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	plan := generationdomain.PlanRequest{
		AccountID:       campaign.AccountID,
		CampaignID:      campaign.ID,
		CampaignName:    campaign.Name,
		Tone:            campaign.Tone,
		Products:        products,
		IncludeImages:   req.IncludeImages,
		TextProviderID:  req.TextProvider,
		TextModelID:     req.TextModel,
		ImageProviderID: req.ImageProvider,
		ImageModelID:    req.ImageModel,
	}
	if plan.TextProviderID == "" {
		plan.TextProviderID = "openai"
		plan.TextModelID = s.cfg.Providers.OpenAI.Model
	}
	if plan.ImageProviderID == "" {
		plan.ImageProviderID = "stability"
		plan.ImageModelID = s.cfg.Providers.Stability.Model
	}

	report, err := s.generationSvc.Generate(c.Request.Context(), plan)
	if report == nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		action := auditdomain.ActionGenerationFinished
		if report.Status == generationdomain.RunStatusAborted {
			action = auditdomain.ActionGenerationAborted
		}
		s.auditSvc.Record(c.Request.Context(), auditservice.Entry{
			AccountID:  campaign.AccountID,
			ActorType:  auditdomain.ActorTypeAPIKey,
			Action:     action,
			TargetType: "campaign",
			TargetID:   campaign.ID.String(),
			Metadata: map[string]any{
				"run_id":           report.RunID.String(),
				"status":           string(report.Status),
				"credits_spent":    report.CreditsSpent,
				"credits_refunded": report.CreditsRefunded,
			},
		})
	}

	// A partial or aborted run still carries a meaningful report; the status
	// field tells the caller what happened.
	c.JSON(http.StatusOK, gin.H{"data": report})
}
