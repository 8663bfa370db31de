package config

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
	LogLevelFatal   = "fatal"

	NotifyProviderNone      = "none"
	NotifyProviderSlack     = "slack"
	NotifyProviderPagerDuty = "pagerduty"
)

// Validate rejects configurations the server could not run with.
func Validate(conf *Custodian) error {
	return validation.ValidateStruct(conf,
		validation.Field(&conf.Log, validation.By(func(interface{}) error {
			return validateLog(&conf.Log)
		})),
		validation.Field(&conf.Serve, validation.By(func(interface{}) error {
			return validateServe(&conf.Serve)
		})),
		validation.Field(&conf.Jobs, validation.By(func(interface{}) error {
			return validateJobs(&conf.Jobs)
		})),
		validation.Field(&conf.Notify, validation.By(func(interface{}) error {
			return validateNotify(&conf.Notify)
		})),
	)
}

func validateLog(conf *LogConfig) error {
	return validation.ValidateStruct(conf,
		validation.Field(&conf.Level, validation.In(
			LogLevelDebug,
			LogLevelInfo,
			LogLevelWarning,
			LogLevelError,
			LogLevelFatal,
		)),
	)
}

func validateServe(conf *ServerConfig) error {
	return validation.ValidateStruct(conf,
		validation.Field(&conf.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&conf.Host, validation.Required),
	)
}

func validateJobs(conf *JobsConfig) error {
	return validation.ValidateStruct(conf,
		validation.Field(&conf.MaxConcurrentBackups, validation.Min(1)),
		validation.Field(&conf.MaxConcurrentOperations, validation.Min(1)),
		validation.Field(&conf.MaxOutputLinesPerJob, validation.Min(1)),
		validation.Field(&conf.SubscriberQueueSize, validation.Min(1)),
	)
}

func validateNotify(conf *NotifyConfig) error {
	err := validation.ValidateStruct(conf,
		validation.Field(&conf.Provider, validation.In(
			NotifyProviderNone,
			NotifyProviderSlack,
			NotifyProviderPagerDuty,
		)),
	)
	if err != nil {
		return err
	}
	switch conf.Provider {
	case NotifyProviderSlack:
		return validation.ValidateStruct(&conf.Slack,
			validation.Field(&conf.Slack.OAuthToken, validation.Required),
			validation.Field(&conf.Slack.Channel, validation.Required),
		)
	case NotifyProviderPagerDuty:
		return validation.ValidateStruct(&conf.PagerDuty,
			validation.Field(&conf.PagerDuty.RoutingKey, validation.Required),
		)
	}
	return nil
}
