/*
Package hvloader loads ELF64 x86-64 shared objects into caller-owned memory
and links them against each other without a host dynamic linker.

The packages are used in order:

 1. [elf.New] parses and validates one module image
 2. [loader.Loader.Add] registers the image together with the memory it was copied into
 3. [loader.Loader.Relocate] resolves symbols across every image and patches their memory, once
 4. [loader.Loader.ResolveSymbol] and [loader.Loader.SectionInfo] serve the bring-up code

Every failure is reported as an error which unwraps to one of the category
sentinels declared here, so callers can branch with [errors.Is].
*/
package hvloader
