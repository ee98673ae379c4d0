// Package js holds scripts evaluated inside the page.
package js

import (
	_ "embed"
)

// SelectorEngineScript embeds a function expression taking a parsed
// selector and an action ("count", "visible" or "center") and returning the
// action's result for the current document.
//
//go:embed selector_engine.js
var SelectorEngineScript string

// FullPageSizeScript evaluates to the document's scrollable size.
const FullPageSizeScript = `(() => {
    if (!document.body || !document.documentElement) {
        return null;
    }
    return {
        width: Math.max(
            document.body.scrollWidth, document.documentElement.scrollWidth,
            document.body.offsetWidth, document.documentElement.offsetWidth,
            document.body.clientWidth, document.documentElement.clientWidth
        ),
        height: Math.max(
            document.body.scrollHeight, document.documentElement.scrollHeight,
            document.body.offsetHeight, document.documentElement.offsetHeight,
            document.body.clientHeight, document.documentElement.clientHeight
        ),
    };
})()`
