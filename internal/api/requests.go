package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/celerix-dev/chronovault/pkg/schema"
)

type ownerURI struct {
	Address string `uri:"address" binding:"required,eth_addr"`
}

type heirURI struct {
	Address string `uri:"address" binding:"required,eth_addr"`
	Heir    string `uri:"heir" binding:"required,eth_addr"`
}

type activityRequest struct {
	Type        string `json:"type" binding:"required,activity_kind"`
	Completed   bool   `json:"completed"`
	Timestamp   int64  `json:"timestamp" binding:"omitempty,min=0"`
	Description string `json:"description" binding:"max=512"`
}

type addHeirRequest struct {
	HeirAddress string `json:"heir_address" binding:"required,eth_addr"`
	Share       int    `json:"share" binding:"required,min=1,max=100"`
}

type createRiddleRequest struct {
	Question string `json:"question" binding:"required,max=512"`
	Answer   string `json:"answer" binding:"required,max=512"`
}

type verifyRiddleRequest struct {
	RiddleID string `json:"riddle_id" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
	Claimant string `json:"claimant" binding:"omitempty,eth_addr"`
}

type referenceRequest struct {
	FaceTag string `json:"face_tag" binding:"required,max=4096"`
}

type removeReferenceRequest struct {
	RiddleID string `json:"riddle_id" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
}

type voiceWebhookRequest struct {
	OwnerAddress string `json:"owner_address" binding:"required,eth_addr"`
	Verified     *bool  `json:"verified" binding:"required"`
}

var registerOnce sync.Once

// registerValidators adds the custom tags used by the request types to
// gin's validator engine.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("activity_kind", func(fl validator.FieldLevel) bool {
			return schema.ActivityKind(fl.Field().String()).Valid()
		})
	})
}
