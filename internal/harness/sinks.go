package harness

import (
	"context"
	"errors"

	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/internal/report"
	"github.com/andrej220/guestcheck/pkg/config"
)

// Sinks builds the report sinks enabled by cfg. Reports always go to the
// output directory; Kafka and MongoDB are added when configured. The
// returned func releases the sinks.
func Sinks(ctx context.Context, cfg *config.HarnessConfig) (report.Multi, func() error, error) {
	sinks := report.Multi{report.NewFileSink(cfg.Output.Dir)}
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	if cfg.Kafka != nil {
		p := report.NewKafkaPublisher(report.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.ReportsTopic})
		sinks = append(sinks, p)
		closers = append(closers, p.Close)
		lg.FromContext(ctx).Info("publishing reports to kafka", lg.String("topic", cfg.Kafka.ReportsTopic))
	}
	if cfg.Mongo != nil {
		m, err := report.NewMongoSink(ctx, report.MongoConfig{URI: cfg.Mongo.URI, DBName: cfg.Mongo.DBName, CollName: cfg.Mongo.CollName})
		if err != nil {
			return nil, nil, errors.Join(err, closeAll())
		}
		sinks = append(sinks, m)
		closers = append(closers, func() error { return m.Close(context.Background()) })
		lg.FromContext(ctx).Info("storing reports in mongodb", lg.String("collection", cfg.Mongo.CollName))
	}
	return sinks, closeAll, nil
}
