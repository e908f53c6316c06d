// Package vec exposes persisted vector indexes to SQL through two virtual
// table modules registered on the database handle.
//
// curator_knn ranks the path keys of one embedding against a query vector:
//
//	CREATE VIRTUAL TABLE knn USING curator_knn(path=text, embedding=local_embed);
//	SELECT row_id, score FROM knn
//	WHERE dataset = 'local/movies' AND row_id MATCH '[0.1, 0.9]' AND score >= 0.5;
//
// Without MATCH the table lists the indexed keys in insertion order.
//
// curator_vectors lists the indexes of a dataset:
//
//	CREATE VIRTUAL TABLE vectors USING curator_vectors;
//	SELECT path, embedding, keys, spans FROM vectors WHERE dataset = 'local/movies';
package vec
