// Package script parses build scripts.
//
// A script is a sequence of line oriented commands with upper case keywords:
//
//	# comments are ignored
//	FROM EMPTY AS demo/weather
//	FROM demo/raw:v1 IMPORT readings AS r, {SELECT city, max(temp) AS t FROM readings GROUP BY city} AS peaks
//	FROM MOUNT csv '{"url": "s3://bucket/stations.csv", "primary_key": ["id"]}' IMPORT stations
//	SQL CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)
//	SQL {
//	    INSERT INTO notes VALUES (1, 'first')
//	}
//	SQL FILE transform.sql
//
// Before parsing, a backslash at the end of a line joins it with the next,
// and ${NAME} is replaced with the value of parameter NAME. Write \${NAME}
// for a literal ${NAME}. Inside a {...} block, \} is a literal brace; inside
// quoted mount parameters, \' is a literal quote.
//
// # Usage
//
//	commands, err := script.Parse(source, map[string]string{"TAG": "v2"})
//	if err != nil {
//	    var perr *core.ParseError
//	    ...
//	}
//	for _, command := range commands {
//	    switch c := command.(type) {
//	    case script.FromCommand:
//	    case script.ImportCommand:
//	    case script.SQLCommand:
//	    }
//	}
package script
