package executors

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"

	"algotrader/src/connectors"
	"algotrader/src/repository"
	"algotrader/src/security"
)

// BrokerForUser loads the user's encrypted broker token and builds the REST
// client and order stream for it.
func BrokerForUser(ctx context.Context, userID uint) (*connectors.FyersClient, *connectors.OrderStream, error) {
	userRepo := repository.NewUserRepository()

	user, err := userRepo.FindByID(ctx, userID)
	if err != nil {
		logger.WithField("user_id", userID).
			WithError(err).Error("Failed to load trading account")
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, errors.New("configured trading account not found")
	}
	if !user.HasBrokerToken() {
		return nil, nil, errors.New("no broker token set for trading account")
	}

	cipher, err := security.NewTokenCipher(security.GetConfig().TokenKey)
	if err != nil {
		logger.WithError(err).Error("Failed to build token cipher")
		return nil, nil, err
	}

	accessToken, err := cipher.Open(user.BrokerTokenCipher)
	if err != nil {
		logger.WithError(err).Error("Failed to decrypt broker token")
		return nil, nil, err
	}

	connCfg := connectors.GetConfig()
	broker := connectors.NewFyersClient(connCfg.FyersClientID, accessToken, connCfg.FyersBaseURL)
	stream := connectors.NewOrderStream(connCfg.FyersSocketURL, connCfg.FyersClientID, accessToken)

	return broker, stream, nil
}
