package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// constraints make the MERGEs in SaveNetwork safe to run from several
// workers at once: without them two transactions can both create a manhole.
var constraints = []string{
	fmt.Sprintf("CREATE CONSTRAINT manhole_id IF NOT EXISTS FOR (m:%s) REQUIRE m.id IS UNIQUE", LabelManhole),
	fmt.Sprintf("CREATE CONSTRAINT interference_id IF NOT EXISTS FOR (i:%s) REQUIRE i.id IS UNIQUE", LabelInterference),
}

// EnsureSchema creates the uniqueness constraints the store relies on.
// It is idempotent and must run before the first SaveNetwork.
func EnsureSchema(ctx context.Context, driver neo4j.DriverWithContext) error {
	sess := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer sess.Close(ctx)
	return ensureSchema(ctx, func(ctx context.Context, cypher string) error {
		res, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return err
		}
		_, err = res.Consume(ctx)
		return err
	})
}

func ensureSchema(ctx context.Context, exec func(context.Context, string) error) error {
	for _, c := range constraints {
		if err := exec(ctx, c); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	return nil
}
