package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

// API is the part of the SNS client the notifier uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier fans status changes out to the beneficiary notification and
// payment subscribers of an SNS topic.
type Notifier struct {
	client   API
	topicARN string
}

func NewClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewNotifier(client API, topicARN string) *Notifier {
	return &Notifier{client: client, topicARN: topicARN}
}

func (n *Notifier) NotifyStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject(event)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"application_type": stringAttribute(string(event.ApplicationType)),
			"to_status":        stringAttribute(string(event.ToStatus)),
			"beneficiary_id":   stringAttribute(event.BeneficiaryID),
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", event.ApplicationID, err)
	}
	return nil
}

// Notifies reports whether the beneficiary hears about a transition.
// Officer assignment and document checks stay internal.
func Notifies(event domain.StatusChangedEvent) bool {
	switch event.ToStatus {
	case domain.StatusSubmitted, domain.StatusApproved, domain.StatusRejected, domain.StatusPaymentInitiated, domain.StatusCompleted:
		return true
	default:
		return false
	}
}

func subject(event domain.StatusChangedEvent) string {
	return fmt.Sprintf("Application %s is %s", event.ApplicationID, event.ToStatus)
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}
