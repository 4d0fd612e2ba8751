package kafka

import (
	"errors"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// scramMechanism pairs a configured SASL mechanism name with the sarama
// mechanism and the hash xdg-go/scram signs with.
type scramMechanism struct {
	sarama sarama.SASLMechanism
	hash   scram.HashGeneratorFcn
}

var scramMechanisms = map[string]scramMechanism{
	"SCRAM-SHA-256": {sarama: sarama.SASLTypeSCRAMSHA256, hash: scram.SHA256},
	"SCRAM-SHA-512": {sarama: sarama.SASLTypeSCRAMSHA512, hash: scram.SHA512},
}

var errNoConversation = errors.New("scram conversation not started")

var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramClient runs one SCRAM conversation per broker connection.
type scramClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

// newSCRAMClientGenerator returns the factory sarama calls for every new
// broker connection.
func newSCRAMClientGenerator(hash scram.HashGeneratorFcn) func() sarama.SCRAMClient {
	return func() sarama.SCRAMClient {
		return &scramClient{hash: hash}
	}
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hash.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	if c.conv == nil {
		return "", errNoConversation
	}
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv != nil && c.conv.Done()
}
