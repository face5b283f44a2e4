package mcpserver

// PostFormatContract describes the content file format the pipeline reads.
const PostFormatContract = `# Folio Post Format

Each post is one Markdown file in the content directory.

## Structure

` + "```" + `markdown
---
title: Hello, world          # optional, defaults to ""
author: Ann                  # optional, defaults to ""
date: 2024-03-01             # REQUIRED, posts without a parseable date are skipped
tags: [go, notes]            # any other key is carried through unchanged
---

Body text in GitHub-flavored Markdown.
` + "```" + `

## Rules

1. **The post id is the filename without its extension.** ` + "`" + `hello-world.md` + "`" + `
   becomes ` + "`" + `hello-world` + "`" + `. Two files with the same stem collide.
2. **Front matter** opens with ` + "`" + `---` + "`" + ` on the first non-blank line and closes
   with ` + "`" + `---` + "`" + ` or ` + "`" + `...` + "`" + `. An unclosed block drops the file.
3. **Dates** are ` + "`" + `YYYY-MM-DD` + "`" + ` or RFC 3339. Posts are listed newest first.
4. **Reserved keys** ` + "`" + `id` + "`" + ` and ` + "`" + `content` + "`" + ` in front matter are ignored.
5. **Code blocks** name their language after the fence (` + "```go" + `). Unknown
   languages render as plaintext.
6. **Extensions** ` + "`" + `.md` + "`" + ` and ` + "`" + `.mdx` + "`" + ` are read by default.
`
