// Package notify delivers OTP messages to phones.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	id "webkart/pkg/domain"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier sends transactional SMS through Amazon SNS.
type SNSNotifier struct {
	client   SNSAPI
	senderID string
}

// NewSNS creates an SNS notifier. senderID is optional; carriers that do not
// support alphanumeric sender ids ignore it.
func NewSNS(client SNSAPI, senderID string) *SNSNotifier {
	return &SNSNotifier{client: client, senderID: senderID}
}

func (n *SNSNotifier) Send(ctx context.Context, phone id.PhoneNumber, message string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if n.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(n.senderID),
		}
	}
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone.String()),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", phone.Masked(), err)
	}
	return nil
}

// NewSNSClient builds an SNS client, pointing at endpoint when set
// (LocalStack).
func NewSNSClient(cfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// LogNotifier writes messages to the log instead of sending them. It is meant
// for local development only, since the message carries the code.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, phone id.PhoneNumber, message string) error {
	n.logger.InfoContext(ctx, "sms (not sent)",
		"phone", phone.Masked(),
		"message", message,
	)
	return nil
}
