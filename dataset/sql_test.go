package dataset

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
)

func TestVectorSQLModules(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	sim := &signal.SemanticSimilarity{EmbeddingName: testEmbedding, Query: "cat"}
	require.NoError(t, ds.ComputeSignal(ctx, sim, schema.Path{"text"}, ComputeOptions{}))

	_, err := env.DB.ExecContext(ctx, `CREATE VIRTUAL TABLE knn USING curator_knn(path=text, embedding=`+testEmbedding+`)`)
	if err != nil && strings.Contains(err.Error(), "no such module") {
		t.Skipf("skipping: curator_knn not available (%v)", err)
	}
	require.NoError(t, err)

	var hits []struct {
		RowID string  `db:"row_id"`
		Score float64 `db:"score"`
	}
	err = env.DB.SelectContext(ctx, &hits, `SELECT row_id, score FROM knn
WHERE dataset = 'local/animals' AND row_id MATCH '[1, 0]' AND score >= 0.5
ORDER BY score DESC`)
	require.NoError(t, err)
	var ids []string
	for _, hit := range hits {
		ids = append(ids, hit.RowID)
	}
	assert.Equal(t, []string{"r1", "r3", "r5"}, ids)

	var count int
	require.NoError(t, env.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM knn WHERE dataset = 'local/animals'`))
	assert.Equal(t, 5, count)

	_, err = env.DB.ExecContext(ctx, `CREATE VIRTUAL TABLE vectors USING curator_vectors`)
	require.NoError(t, err)
	var listed []struct {
		Path      string `db:"path"`
		Embedding string `db:"embedding"`
		Keys      int    `db:"keys"`
	}
	require.NoError(t, env.DB.SelectContext(ctx, &listed, `SELECT path, embedding, keys FROM vectors WHERE dataset = 'local/animals'`))
	require.Len(t, listed, 1)
	assert.Equal(t, "text", listed[0].Path)
	assert.Equal(t, testEmbedding, listed[0].Embedding)
	assert.Equal(t, 5, listed[0].Keys)

	_, err = env.VectorIndex(ctx, "animals", "text", testEmbedding)
	assert.Error(t, err)
	_, err = env.VectorIndex(ctx, "local/animals", "text", "missing")
	assert.Error(t, err)
}
