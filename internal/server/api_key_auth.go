package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
	"github.com/smallbiznis/mailforge/internal/seed"
)

const contextAccountIDKey = "account_id"

type cachedAccount struct {
	ID snowflake.ID
}

// APIKeyRequired authenticates requests with a bearer API key. The account is
// resolved by the key's sha256 hash and cached briefly so the hot generate
// path does not hit the database per request.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := seed.HashAPIKey(parts[1])

		if account, ok := s.accountCache.Get(hash); ok {
			c.Set(contextAccountIDKey, account.ID)
			c.Next()
			return
		}

		var record ledgerdomain.CreditAccount
		err := s.db.WithContext(c.Request.Context()).
			Where("api_key_hash = ?", hash).
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err != nil {
			AbortWithError(c, err)
			return
		}

		s.accountCache.Set(hash, cachedAccount{ID: record.ID}, accountCacheTTL)
		c.Set(contextAccountIDKey, record.ID)
		c.Next()
	}
}

// accountID returns the authenticated account for the request.
func accountID(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextAccountIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}
