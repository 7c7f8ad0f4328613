// Package build executes build scripts into output repositories.
//
// Every IMPORT and SQL command yields one image whose hash is a cache key
// derived from the output's HEAD and the command:
//
//	import  sha256(HEAD || source image || sha256(table or query)... || sha256(alias)...)
//	sql     sha256(HEAD || sha256(statement))
//	mount   sha256(HEAD || sha256(random))
//
// When an image with the key already exists on top of HEAD it is checked
// out instead of recomputed, so re-running an unchanged script is cheap and
// yields identical hashes. Imports without a query reference the source's
// objects; an imported query is stored as a single new snapshot object.
//
// # Usage
//
//	exec := build.New(diffEngine, build.WithLogger(logger), build.WithBaseDir(scriptDir))
//	res, err := exec.Run(ctx, source, map[string]string{"TAG": "v2"}, core.MustParseRepository("demo/out"))
//	if err != nil {
//	    ...
//	}
//	res.Display(os.Stdout)
//
// Images record their provenance. Provenance and ScriptFor turn it back into
// commands; Executor.Rebuild re-executes them, optionally against newer
// source images.
package build
