/*
Package script loads and runs user job scripts.

Scripts are Lua and arrive either as a path or as inline source text. A
loaded Program owns a private interpreter, a mandatory main function and an
optional init function, mirroring the worker lifecycle: load, init once,
then answer calls through main.

Inside a script, file handles appear as userdata with path/rel/origin/
nocopy accessors, and the quickdist table provides workfile/localfile/
tempfile constructors plus the worker slot:

	function init()
	    print("worker " .. quickdist.slot .. " ready")
	end

	function main(f)
	    local out = quickdist.localfile("out/result.txt")
	    -- read f:path(), write out:path() ...
	    return out
	end

Multiple return values from main form the result tuple. Keyword arguments,
when present, are delivered as a trailing table.
*/
package script
